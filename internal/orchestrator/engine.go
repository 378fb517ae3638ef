package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/internal/history"
	"github.com/dyluth/quill/pkg/message"
	"github.com/google/uuid"
)

// DefaultName is the broker name the orchestrator sends from.
const DefaultName = "orchestrator"

// Config is passed to the orchestrator at construction time.
type Config struct {
	// Name is the sender name of every request and the name late replies arrive under.
	Name string

	// Recipient names per phase.
	Author      string
	Illustrator string
	Publisher   string

	// Per-phase waits. A phase never waits longer than the workflow's remaining time.
	StoryTimeout        time.Duration
	IllustrationTimeout time.Duration
	PublicationTimeout  time.Duration

	// DefaultTimeout bounds a workflow when CreateStory is called without one.
	DefaultTimeout time.Duration

	// ScenesPerChapter caps the author's scene hints used per chapter.
	ScenesPerChapter int

	// MaxConcurrentScenes bounds the illustration fan-out; 0 sends every scene at once.
	MaxConcurrentScenes int

	// RetainFinished caps how many finished workflows stay queryable; the
	// oldest are dropped first. Running workflows are always kept.
	RetainFinished int

	// Formats requested from the publisher. Empty lets the publisher decide.
	Formats []string

	// Probers report agent status for AgentStatuses.
	Probers []agent.Prober
}

// DefaultConfig returns the settings used when a Config field is zero.
func DefaultConfig() Config {
	return Config{
		Name:                DefaultName,
		Author:              agent.RoleAuthor,
		Illustrator:         agent.RoleIllustrator,
		Publisher:           agent.RolePublisher,
		StoryTimeout:        5 * time.Minute,
		IllustrationTimeout: 3 * time.Minute,
		PublicationTimeout:  2 * time.Minute,
		DefaultTimeout:      15 * time.Minute,
		ScenesPerChapter:    2,
		RetainFinished:      1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Author == "" {
		c.Author = d.Author
	}
	if c.Illustrator == "" {
		c.Illustrator = d.Illustrator
	}
	if c.Publisher == "" {
		c.Publisher = d.Publisher
	}
	if c.StoryTimeout <= 0 {
		c.StoryTimeout = d.StoryTimeout
	}
	if c.IllustrationTimeout <= 0 {
		c.IllustrationTimeout = d.IllustrationTimeout
	}
	if c.PublicationTimeout <= 0 {
		c.PublicationTimeout = d.PublicationTimeout
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.ScenesPerChapter <= 0 {
		c.ScenesPerChapter = d.ScenesPerChapter
	}
	if c.RetainFinished <= 0 {
		c.RetainFinished = d.RetainFinished
	}
	return c
}

// Orchestrator drives story workflows through the author, illustrator and
// publisher over a broker. It is safe for concurrent CreateStory calls; each
// workflow is isolated by its correlation id.
type Orchestrator struct {
	cfg     Config
	broker  broker.Broker
	history history.Store

	mu        sync.RWMutex
	workflows map[string]*workflow
	finished  []string // correlation ids in finishing order
	started   bool
}

// New creates an orchestrator. A nil store keeps history in memory.
func New(b broker.Broker, store history.Store, cfg Config) (*Orchestrator, error) {
	if b == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if store == nil {
		store = history.NewMemoryStore()
	}

	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		broker:    b,
		history:   store,
		workflows: make(map[string]*workflow),
	}, nil
}

// Name returns the broker name the orchestrator uses.
func (o *Orchestrator) Name() string {
	return o.cfg.Name
}

// Start subscribes the orchestrator under its name so replies arriving after
// their wait was abandoned, and status events, are recorded in history.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	if err := o.broker.Subscribe(o.cfg.Name, o.observe); err != nil {
		return fmt.Errorf("failed to subscribe orchestrator: %w", err)
	}
	o.started = true
	o.logEvent("orchestrator_started", map[string]interface{}{})
	return nil
}

// Stop removes the subscription made by Start.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	o.started = false
	if err := o.broker.Unsubscribe(o.cfg.Name); err != nil {
		return fmt.Errorf("failed to unsubscribe orchestrator: %w", err)
	}
	return nil
}

// observe records messages delivered outside a pending wait. They never
// touch workflow results.
func (o *Orchestrator) observe(ctx context.Context, msg *message.Message) error {
	o.record(ctx, msg)

	if msg.IsTerminal() {
		o.logEvent("late_message", map[string]interface{}{
			"correlation_id": msg.CorrelationID,
			"message_id":     msg.ID,
			"in_reply_to":    msg.InReplyTo,
			"sender":         msg.Sender,
			"kind":           msg.Kind,
		})
	}
	return nil
}

// CreateStory runs one workflow to completion and returns its result, which
// is always complete or failed. timeout bounds the sum of all phase waits;
// a timeout <= 0 uses the configured default.
func (o *Orchestrator) CreateStory(ctx context.Context, idea message.StoryIdea, timeout time.Duration) *WorkflowResult {
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}

	wf := newWorkflow(uuid.New().String())
	cid := wf.result.CorrelationID

	o.mu.Lock()
	o.workflows[cid] = wf
	o.mu.Unlock()

	o.logEvent("workflow_started", map[string]interface{}{
		"correlation_id": cid,
		"timeout_ms":     timeout.Milliseconds(),
	})

	if err := idea.Validate(); err != nil {
		return o.finish(wf, "", &ValidationError{Err: err})
	}
	idea = idea.WithDefaults()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := runCtx.Deadline()

	story, err := o.runStoryCreation(runCtx, wf, idea, deadline)
	if err != nil {
		return o.finish(wf, message.PhaseStoryCreation, err)
	}

	images, err := o.runIllustration(runCtx, wf, idea, story, deadline)
	if err != nil {
		return o.finish(wf, message.PhaseIllustration, err)
	}

	if err := o.runPublication(runCtx, wf, idea, story, images, deadline); err != nil {
		return o.finish(wf, message.PhasePublication, err)
	}

	return o.finish(wf, "", nil)
}

// finish finalizes the workflow and returns its frozen result.
func (o *Orchestrator) finish(wf *workflow, phase message.Phase, err error) *WorkflowResult {
	cid := wf.result.CorrelationID

	if err == nil {
		if cerr := wf.complete(); cerr != nil {
			err = cerr
		}
	}

	if err != nil {
		wf.fail(phase, err)
		log.Printf("[ERROR] Workflow %s failed: %v", cid, err)
	}

	result := wf.snapshot()
	o.retire(cid)
	o.logEvent("workflow_finished", map[string]interface{}{
		"correlation_id": cid,
		"status":         result.Status,
		"failed_phase":   result.FailedPhase,
		"duration_ms":    result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	})
	return result
}

// TaskStatus returns the latest recorded state of a workflow.
func (o *Orchestrator) TaskStatus(correlationID string) (TaskStatus, error) {
	wf, err := o.lookup(correlationID)
	if err != nil {
		return TaskStatus{}, err
	}
	return wf.status(), nil
}

// Result returns a copy of a workflow's current result.
func (o *Orchestrator) Result(correlationID string) (*WorkflowResult, error) {
	wf, err := o.lookup(correlationID)
	if err != nil {
		return nil, err
	}
	return wf.snapshot(), nil
}

// MessageHistory returns every message recorded for a correlation id in arrival order.
func (o *Orchestrator) MessageHistory(ctx context.Context, correlationID string) ([]*message.Message, error) {
	msgs, err := o.history.List(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", correlationID, err)
	}
	return msgs, nil
}

// AgentStatuses probes every configured agent concurrently.
func (o *Orchestrator) AgentStatuses(ctx context.Context) []agent.AgentStatus {
	statuses := make([]agent.AgentStatus, len(o.cfg.Probers))

	var wg sync.WaitGroup
	for i, p := range o.cfg.Probers {
		wg.Add(1)
		go func(i int, p agent.Prober) {
			defer wg.Done()
			statuses[i] = p.Probe(ctx)
		}(i, p)
	}
	wg.Wait()

	return statuses
}

// retire marks cid finished and evicts the oldest finished workflows over
// the retention limit. History is not affected.
func (o *Orchestrator) retire(cid string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finished = append(o.finished, cid)
	for len(o.finished) > o.cfg.RetainFinished {
		delete(o.workflows, o.finished[0])
		o.finished[0] = ""
		o.finished = o.finished[1:]
	}
}

func (o *Orchestrator) lookup(correlationID string) (*workflow, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	wf, ok := o.workflows[correlationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, correlationID)
	}
	return wf, nil
}

// record appends msg to history. History is diagnostic, so failures are logged only.
func (o *Orchestrator) record(ctx context.Context, msg *message.Message) {
	if err := o.history.Append(context.WithoutCancel(ctx), msg); err != nil {
		log.Printf("[WARN] Failed to record message %s in history: %v", msg.ID, err)
	}
}

// logEvent logs a structured event in JSON format.
func (o *Orchestrator) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType
	data["instance"] = o.cfg.Name

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
