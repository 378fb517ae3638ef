package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/internal/capability"
	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/history"
	"github.com/dyluth/quill/internal/llm"
	"github.com/dyluth/quill/internal/orchestrator"
	"github.com/redis/go-redis/v9"
)

// pipeline is the broker, history store and agents one quill process runs on.
type pipeline struct {
	cfg      *config.QuillConfig
	rdb      *redis.Client
	broker   broker.Broker
	history  history.Store
	services []*agent.Service
}

// newPipeline connects the broker and history store named in cfg.
func newPipeline(ctx context.Context, cfg *config.QuillConfig) (*pipeline, error) {
	p := &pipeline{cfg: cfg}

	if cfg.Broker.Type == config.BrokerRedis || cfg.History.Type == config.HistoryRedis {
		opts, err := redis.ParseURL(cfg.Broker.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		p.rdb = redis.NewClient(opts)
		if err := p.rdb.Ping(ctx).Err(); err != nil {
			p.rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Broker.RedisURL, err)
		}
	}

	b, err := buildBroker(cfg, p.rdb)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.broker = b

	store, err := buildHistory(cfg, p.rdb)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.history = store

	return p, nil
}

func buildBroker(cfg *config.QuillConfig, rdb *redis.Client) (broker.Broker, error) {
	var opts []broker.Option
	if cfg.Broker.DefaultRoute != "" {
		opts = append(opts, broker.WithDefaultRoute(cfg.Broker.DefaultRoute))
	}

	switch cfg.Broker.Type {
	case config.BrokerRedis:
		return broker.NewRedisBroker(rdb, cfg.Namespace, opts...)
	case config.BrokerHTTP:
		return broker.NewHTTPBroker(broker.HTTPConfig{
			Routes:     cfg.Broker.Routes,
			MaxRetries: uint64(cfg.Broker.MaxRetries),
		}, opts...)
	default:
		return broker.NewMemoryBroker(opts...), nil
	}
}

func buildHistory(cfg *config.QuillConfig, rdb *redis.Client) (history.Store, error) {
	switch cfg.History.Type {
	case config.HistoryRedis:
		return history.NewRedisStore(rdb, cfg.Namespace)
	case config.HistorySQLite:
		if dir := filepath.Dir(cfg.History.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		return history.OpenSQLStore(cfg.History.Path)
	default:
		return history.NewMemoryStore(), nil
	}
}

// buildCapability creates the capability serving the named agent.
func buildCapability(cfg *config.QuillConfig, name string) (agent.Capability, error) {
	a, ok := cfg.Agents[name]
	if !ok {
		return nil, fmt.Errorf("agent '%s' is not defined in configuration", name)
	}

	if len(a.Command) > 0 {
		return capability.NewCommand(capability.CommandConfig{
			Role:    a.Role,
			Command: a.Command,
			Timeout: a.Timeout.Std(),
		})
	}

	opts := llm.Options{Backend: a.Backend, Model: a.Model, APIKey: a.APIKey()}
	switch a.Role {
	case config.RoleAuthor:
		gen, err := llm.NewTextGenerator(opts)
		if err != nil {
			return nil, fmt.Errorf("agent '%s': %w", name, err)
		}
		return capability.NewAuthor(gen, cfg.Orchestrator.ScenesPerChapter), nil
	case config.RoleIllustrator:
		gen, err := llm.NewImageGenerator(opts)
		if err != nil {
			return nil, fmt.Errorf("agent '%s': %w", name, err)
		}
		return capability.NewIllustrator(gen, cfg.OutputDir, a.ImageSize)
	case config.RolePublisher:
		return capability.NewPublisher(capability.PublisherConfig{
			OutputDir:  cfg.OutputDir,
			PDFCommand: a.PDFCommand,
			PDFTimeout: a.Timeout.Std(),
		})
	default:
		return nil, fmt.Errorf("agent '%s': unsupported role %s", name, a.Role)
	}
}

// newService builds the Service for one configured agent.
func (p *pipeline) newService(name string) (*agent.Service, error) {
	c, err := buildCapability(p.cfg, name)
	if err != nil {
		return nil, err
	}
	a := p.cfg.Agents[name]
	return agent.NewService(name, c, p.broker, agent.Config{
		Concurrency: a.Concurrency,
		Cooldown:    a.Cooldown.Std(),
	})
}

// startAgents starts every configured agent inside this process.
func (p *pipeline) startAgents(ctx context.Context) error {
	names := make([]string, 0, len(p.cfg.Agents))
	for name := range p.cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc, err := p.newService(name)
		if err != nil {
			return err
		}
		if err := svc.Start(ctx, true); err != nil {
			return fmt.Errorf("failed to start agent '%s': %w", name, err)
		}
		p.services = append(p.services, svc)
	}
	return nil
}

// probers reports in-process agents directly and the rest over HTTP.
func (p *pipeline) probers() []agent.Prober {
	local := make(map[string]bool, len(p.services))
	var probers []agent.Prober
	for _, svc := range p.services {
		local[svc.Name()] = true
		probers = append(probers, svc)
	}
	for _, rp := range remoteProbers(p.cfg) {
		if !local[rp.Name] {
			probers = append(probers, rp)
		}
	}
	return probers
}

func remoteProbers(cfg *config.QuillConfig) []*agent.RemoteProber {
	names := make([]string, 0, len(cfg.Agents))
	for name, a := range cfg.Agents {
		if a.URL != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	probers := make([]*agent.RemoteProber, 0, len(names))
	for _, name := range names {
		probers = append(probers, agent.NewRemoteProber(name, cfg.Agents[name].URL))
	}
	return probers
}

// newOrchestrator builds the workflow engine on the pipeline's broker.
func (p *pipeline) newOrchestrator() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(p.broker, p.history, orchestratorConfig(p.cfg, p.probers()))
}

func orchestratorConfig(cfg *config.QuillConfig, probers []agent.Prober) orchestrator.Config {
	author, _, _ := cfg.AgentFor(config.RoleAuthor)
	illustrator, _, _ := cfg.AgentFor(config.RoleIllustrator)
	publisher, _, _ := cfg.AgentFor(config.RolePublisher)

	o := cfg.Orchestrator
	return orchestrator.Config{
		Name:                o.Name,
		Author:              author,
		Illustrator:         illustrator,
		Publisher:           publisher,
		StoryTimeout:        o.StoryTimeout.Std(),
		IllustrationTimeout: o.IllustrationTimeout.Std(),
		PublicationTimeout:  o.PublicationTimeout.Std(),
		DefaultTimeout:      o.WorkflowTimeout.Std(),
		ScenesPerChapter:    o.ScenesPerChapter,
		MaxConcurrentScenes: o.MaxConcurrentScenes,
		RetainFinished:      o.RetainWorkflows,
		Formats:             o.Formats,
		Probers:             probers,
	}
}

// Close stops in-process agents and releases the broker, history and Redis client.
func (p *pipeline) Close() error {
	var errs []error
	for _, svc := range p.services {
		if err := svc.Stop(false); err != nil {
			errs = append(errs, err)
		}
	}
	if p.broker != nil {
		if err := p.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close broker: %w", err))
		}
	}
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
	}
	if p.rdb != nil {
		if err := p.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}
