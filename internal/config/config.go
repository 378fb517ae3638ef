package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default configuration path.
const ConfigFileName = "quill.yml"

// Broker types
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerHTTP   = "http"
)

// History store types
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
	HistorySQLite = "sqlite"
)

// Agent roles, mirrored from the agent package so the config stays free of
// runtime imports.
const (
	RoleAuthor      = "author"
	RoleIllustrator = "illustrator"
	RolePublisher   = "publisher"
)

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration time.Duration

// UnmarshalYAML parses a duration string node.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library value.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// QuillConfig represents the top-level quill.yml configuration
type QuillConfig struct {
	Version      string              `yaml:"version"`
	Namespace    string              `yaml:"namespace,omitempty"`
	OutputDir    string              `yaml:"output_dir,omitempty"`
	Broker       *BrokerConfig       `yaml:"broker,omitempty"`
	History      *HistoryConfig      `yaml:"history,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Agents       map[string]Agent    `yaml:"agents"`
}

// BrokerConfig selects the transport between the orchestrator and agents.
type BrokerConfig struct {
	Type         string            `yaml:"type"`
	RedisURL     string            `yaml:"redis_url,omitempty"`
	Routes       map[string]string `yaml:"routes,omitempty"` // http broker: name -> base URL
	DefaultRoute string            `yaml:"default_route,omitempty"`
	MaxRetries   int               `yaml:"max_retries,omitempty"`
}

// HistoryConfig selects where message history is kept.
type HistoryConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path,omitempty"` // sqlite database file
}

// OrchestratorConfig tunes the workflow engine and its HTTP listener.
type OrchestratorConfig struct {
	Name                string   `yaml:"name,omitempty"`
	Listen              string   `yaml:"listen,omitempty"`
	StoryTimeout        Duration `yaml:"story_timeout,omitempty"`
	IllustrationTimeout Duration `yaml:"illustration_timeout,omitempty"`
	PublicationTimeout  Duration `yaml:"publication_timeout,omitempty"`
	WorkflowTimeout     Duration `yaml:"workflow_timeout,omitempty"`
	ScenesPerChapter    int      `yaml:"scenes_per_chapter,omitempty"`
	MaxConcurrentScenes int      `yaml:"max_concurrent_scenes,omitempty"`
	RetainWorkflows     int      `yaml:"retain_workflows,omitempty"` // finished results kept in memory
	Formats             []string `yaml:"formats,omitempty"`
}

// Agent represents a single agent service configuration
type Agent struct {
	Role        string   `yaml:"role"`
	Listen      string   `yaml:"listen,omitempty"`
	URL         string   `yaml:"url,omitempty"` // where other processes reach this agent
	Concurrency int      `yaml:"concurrency,omitempty"`
	Cooldown    Duration `yaml:"cooldown,omitempty"`

	// Command runs the role as an external tool instead of the built-in
	// capability.
	Command []string `yaml:"command,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`

	Backend   string `yaml:"backend,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	ImageSize  string   `yaml:"image_size,omitempty"`  // illustrator
	PDFCommand []string `yaml:"pdf_command,omitempty"` // publisher
}

// Defaults applied by Validate.
const (
	DefaultNamespace           = "default"
	DefaultOutputDir           = "output"
	DefaultRedisURL            = "redis://localhost:6379"
	DefaultHistoryPath         = "quill.db"
	DefaultOrchestratorName    = "orchestrator"
	DefaultOrchestratorListen  = ":8080"
	DefaultStoryTimeout        = 5 * time.Minute
	DefaultIllustrationTimeout = 3 * time.Minute
	DefaultPublicationTimeout  = 2 * time.Minute
	DefaultWorkflowTimeout     = 15 * time.Minute
	DefaultScenesPerChapter    = 2
	DefaultRetainWorkflows     = 1000
	DefaultImageSize           = "1024x1024"
)

var knownFormats = map[string]bool{"html": true, "markdown": true, "json": true, "pdf": true}

// Default returns a runnable single-process configuration: memory broker,
// memory history and the three built-in agents.
func Default() *QuillConfig {
	c := &QuillConfig{
		Version: "1.0",
		Agents: map[string]Agent{
			RoleAuthor:      {Role: RoleAuthor},
			RoleIllustrator: {Role: RoleIllustrator},
			RolePublisher:   {Role: RolePublisher},
		},
	}
	// The built-in agents always validate.
	_ = c.Validate()
	return c
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted sections.
func (c *QuillConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	rolesSeen := make(map[string]string)
	for name, agent := range c.Agents {
		if err := agent.Validate(name); err != nil {
			return err
		}
		if existing, exists := rolesSeen[agent.Role]; exists {
			return fmt.Errorf("duplicate agent role '%s' found (agents '%s' and '%s'): each role is served by one agent",
				agent.Role, existing, name)
		}
		rolesSeen[agent.Role] = name
		c.Agents[name] = agent
	}
	for _, role := range []string{RoleAuthor, RoleIllustrator, RolePublisher} {
		if _, ok := rolesSeen[role]; !ok {
			return fmt.Errorf("no agent with role '%s' defined", role)
		}
	}

	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	if err := c.Orchestrator.validate(); err != nil {
		return err
	}

	if c.Broker == nil {
		c.Broker = &BrokerConfig{}
	}
	if err := c.Broker.validate(c.Orchestrator.Name, c.Agents); err != nil {
		return err
	}

	if c.History == nil {
		c.History = &HistoryConfig{}
	}
	if err := c.History.validate(); err != nil {
		return err
	}
	// Redis history shares the broker's server setting.
	if c.History.Type == HistoryRedis && c.Broker.RedisURL == "" {
		c.Broker.RedisURL = DefaultRedisURL
	}
	return nil
}

func (b *BrokerConfig) validate(orchestrator string, agents map[string]Agent) error {
	if b.Type == "" {
		b.Type = BrokerMemory
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("broker.max_retries must be >= 0, got %d", b.MaxRetries)
	}

	switch b.Type {
	case BrokerMemory:
	case BrokerRedis:
		if b.RedisURL == "" {
			b.RedisURL = DefaultRedisURL
		}
	case BrokerHTTP:
		if b.Routes == nil {
			b.Routes = make(map[string]string)
		}
		// Agents with a URL are routable without repeating themselves.
		for name, agent := range agents {
			if _, ok := b.Routes[name]; !ok && agent.URL != "" {
				b.Routes[name] = agent.URL
			}
		}
		for name, raw := range b.Routes {
			if err := checkURL(raw); err != nil {
				return fmt.Errorf("broker.routes.%s: %w", name, err)
			}
		}
		for name := range agents {
			if _, ok := b.Routes[name]; !ok {
				return fmt.Errorf("broker type 'http' needs a route or url for agent '%s'", name)
			}
		}
		if _, ok := b.Routes[orchestrator]; !ok {
			return fmt.Errorf("broker type 'http' needs a route for the orchestrator '%s'", orchestrator)
		}
		if b.DefaultRoute != "" {
			if _, ok := b.Routes[b.DefaultRoute]; !ok {
				return fmt.Errorf("broker.default_route '%s' has no route", b.DefaultRoute)
			}
		}
	default:
		return fmt.Errorf("invalid broker type: %s (must be 'memory', 'redis', or 'http')", b.Type)
	}
	return nil
}

func (h *HistoryConfig) validate() error {
	if h.Type == "" {
		h.Type = HistoryMemory
	}
	switch h.Type {
	case HistoryMemory, HistoryRedis:
	case HistorySQLite:
		if h.Path == "" {
			h.Path = DefaultHistoryPath
		}
	default:
		return fmt.Errorf("invalid history type: %s (must be 'memory', 'redis', or 'sqlite')", h.Type)
	}
	return nil
}

func (o *OrchestratorConfig) validate() error {
	if o.Name == "" {
		o.Name = DefaultOrchestratorName
	}
	if o.Listen == "" {
		o.Listen = DefaultOrchestratorListen
	}
	for _, d := range []struct {
		name  string
		value *Duration
		def   time.Duration
	}{
		{"story_timeout", &o.StoryTimeout, DefaultStoryTimeout},
		{"illustration_timeout", &o.IllustrationTimeout, DefaultIllustrationTimeout},
		{"publication_timeout", &o.PublicationTimeout, DefaultPublicationTimeout},
		{"workflow_timeout", &o.WorkflowTimeout, DefaultWorkflowTimeout},
	} {
		if *d.value < 0 {
			return fmt.Errorf("orchestrator.%s must be positive, got %s", d.name, d.value.Std())
		}
		if *d.value == 0 {
			*d.value = Duration(d.def)
		}
	}

	if o.ScenesPerChapter == 0 {
		o.ScenesPerChapter = DefaultScenesPerChapter
	}
	if o.ScenesPerChapter < 1 {
		return fmt.Errorf("orchestrator.scenes_per_chapter must be >= 1, got %d", o.ScenesPerChapter)
	}
	if o.MaxConcurrentScenes < 0 {
		return fmt.Errorf("orchestrator.max_concurrent_scenes must be >= 0 (0 = unlimited), got %d", o.MaxConcurrentScenes)
	}
	if o.RetainWorkflows == 0 {
		o.RetainWorkflows = DefaultRetainWorkflows
	}
	if o.RetainWorkflows < 1 {
		return fmt.Errorf("orchestrator.retain_workflows must be >= 1, got %d", o.RetainWorkflows)
	}

	for _, f := range o.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("orchestrator.formats: unknown format '%s' (must be 'html', 'markdown', 'json', or 'pdf')", f)
		}
	}
	return nil
}

// Validate performs validation on a single agent configuration
func (a *Agent) Validate(name string) error {
	switch a.Role {
	case "":
		return fmt.Errorf("agent '%s': role is required", name)
	case RoleAuthor, RoleIllustrator, RolePublisher:
	default:
		return fmt.Errorf("agent '%s': invalid role: %s (must be 'author', 'illustrator', or 'publisher')", name, a.Role)
	}

	if a.Concurrency < 0 {
		return fmt.Errorf("agent '%s': concurrency must be >= 1", name)
	}
	if a.Concurrency == 0 {
		a.Concurrency = 1
	}
	if a.Cooldown < 0 || a.Timeout < 0 {
		return fmt.Errorf("agent '%s': cooldown and timeout must be positive", name)
	}

	if a.URL != "" {
		if err := checkURL(a.URL); err != nil {
			return fmt.Errorf("agent '%s': %w", name, err)
		}
	}

	// External tools replace the built-in capability entirely.
	if len(a.Command) > 0 {
		if a.Backend != "" {
			return fmt.Errorf("agent '%s': command and backend are mutually exclusive", name)
		}
		return nil
	}

	switch a.Role {
	case RoleAuthor:
		if a.Backend != "" && a.Backend != "template" && a.Backend != "anthropic" && a.Backend != "openai" {
			return fmt.Errorf("agent '%s': invalid backend: %s (must be 'template', 'anthropic', or 'openai')", name, a.Backend)
		}
	case RoleIllustrator:
		if a.Backend != "" && a.Backend != "placeholder" && a.Backend != "openai" {
			return fmt.Errorf("agent '%s': invalid backend: %s (must be 'placeholder' or 'openai')", name, a.Backend)
		}
		if a.ImageSize == "" {
			a.ImageSize = DefaultImageSize
		}
	case RolePublisher:
		if a.Backend != "" {
			return fmt.Errorf("agent '%s': publisher has no backend", name)
		}
	}
	return nil
}

// APIKey resolves the agent's credential from its environment variable.
func (a *Agent) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// AgentFor returns the name and settings of the agent serving role.
func (c *QuillConfig) AgentFor(role string) (string, Agent, bool) {
	for name, agent := range c.Agents {
		if agent.Role == role {
			return name, agent, true
		}
	}
	return "", Agent{}, false
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}

// Load reads and validates quill.yml from the specified path
func Load(path string) (*QuillConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config QuillConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
