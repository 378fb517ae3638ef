package agent

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/pkg/message"
)

// Config tunes an agent Service.
type Config struct {
	// Concurrency is the number of requests handled in parallel.
	Concurrency int

	// QueueSize bounds the requests waiting for a worker. A full queue makes
	// the broker report a delivery failure to the publisher.
	QueueSize int

	// Cooldown is how long the agent reports the error state after a failure.
	Cooldown time.Duration

	// HeartbeatInterval is how often the agent refreshes its heartbeat.
	HeartbeatInterval time.Duration

	// Watcher, when set, receives a status_event on every state change.
	Watcher string
}

// DefaultConfig returns the settings used when a Config field is zero.
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		QueueSize:         100,
		Cooldown:          5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status     string `json:"status"`
	Agent      string `json:"agent"`
	AgentState State  `json:"agent_status"`
	Error      string `json:"error,omitempty"`
}

// Service exposes one Capability on a broker. It subscribes under its name,
// turns each inbound request into a Task, runs the capability on its worker
// pool and publishes the response or error back to the sender.
type Service struct {
	name   string
	cap    Capability
	broker broker.Broker
	cfg    Config
	status *tracker
	recent *recentIDs

	mu      sync.Mutex
	running bool
	pool    *pool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewService creates a stopped service.
func NewService(name string, c Capability, b broker.Broker, cfg Config) (*Service, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name cannot be empty")
	}
	if c == nil {
		return nil, fmt.Errorf("capability cannot be nil")
	}
	if b == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}

	cfg = cfg.withDefaults()
	return &Service{
		name:   name,
		cap:    c,
		broker: b,
		cfg:    cfg,
		status: newTracker(name, cfg.Cooldown),
		recent: newRecentIDs(recentRequestWindow),
	}, nil
}

// Name returns the name the service subscribes under.
func (s *Service) Name() string {
	return s.name
}

// Role returns the role of the service's capability.
func (s *Service) Role() string {
	return s.cap.Role()
}

// Start subscribes the service and starts its workers. With background set
// it returns immediately; otherwise it blocks until ctx is done or Stop is
// called, and a cancelled ctx stops the service gracefully.
func (s *Service) Start(ctx context.Context, background bool) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("agent %s is already running", s.name)
	}

	s.pool = newPool(s.cfg.Concurrency, s.cfg.QueueSize)
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.done = make(chan struct{})

	if err := s.broker.Subscribe(s.name, s.enqueue); err != nil {
		s.pool.stop()
		s.cancel()
		s.mu.Unlock()
		return fmt.Errorf("failed to subscribe agent %s: %w", s.name, err)
	}

	s.running = true
	done := s.done
	s.wg.Add(1)
	go s.heartbeat()
	s.mu.Unlock()

	log.Printf("[INFO] Agent '%s' started (role=%s concurrency=%d)", s.name, s.cap.Role(), s.cfg.Concurrency)

	if background {
		return nil
	}

	select {
	case <-ctx.Done():
		log.Printf("[INFO] Shutdown signal received for agent '%s'", s.name)
		return s.Stop(false)
	case <-done:
		return nil
	}
}

// Stop unsubscribes the service. A graceful stop finishes every queued
// request; a hard stop drops the backlog and only waits for running ones.
func (s *Service) Stop(hard bool) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	var unsubErr error
	if err := s.broker.Unsubscribe(s.name); err != nil {
		unsubErr = fmt.Errorf("failed to unsubscribe agent %s: %w", s.name, err)
	}

	if hard {
		s.pool.stop()
	} else {
		s.pool.stopWait()
	}

	s.cancel()
	s.wg.Wait()
	close(s.done)

	log.Printf("[INFO] Agent '%s' stopped (hard=%v)", s.name, hard)
	return unsubErr
}

// Health returns a snapshot of liveness. It has no side effects.
func (s *Service) Health() HealthStatus {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	st, _ := s.status.snapshot()
	h := HealthStatus{Status: "healthy", Agent: s.name, AgentState: st.State}
	if !running {
		h.Status = "unhealthy"
		h.Error = "agent is not running"
	}
	return h
}

// Status returns the agent's current status.
func (s *Service) Status() AgentStatus {
	st, _ := s.status.snapshot()
	return st
}

// Counters returns the running totals of the agent.
func (s *Service) Counters() Counters {
	_, c := s.status.snapshot()
	return c
}

// Probe implements Prober for in-process services.
func (s *Service) Probe(context.Context) AgentStatus {
	return s.Status()
}

// enqueue is the broker handler. It only queues work so delivery never waits
// on the capability. A request id accepted once is not run again.
func (s *Service) enqueue(_ context.Context, msg *message.Message) error {
	if msg.Type != message.TypeRequest {
		log.Printf("[DEBUG] Agent '%s' ignoring %s", s.name, msg)
		return nil
	}

	if !s.recent.add(msg.ID) {
		log.Printf("[DEBUG] Agent '%s' dropping redelivered request %s", s.name, msg.ID)
		return nil
	}

	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()

	if err := p.submit(func() { s.process(msg) }); err != nil {
		s.recent.forget(msg.ID)
		return err
	}
	return nil
}

// process runs one request end to end and publishes its answer.
func (s *Service) process(req *message.Message) {
	s.notify(s.status.begin())

	payload, err := s.invoke(req)

	var reply *message.Message
	var buildErr error
	if err != nil {
		log.Printf("[WARN] Agent '%s' failed request %s: %v", s.name, req.ID, err)
		phase, _ := message.PhaseOf(req.Kind)
		reply, buildErr = message.NewError(req, &message.ErrorPayload{
			Code:    errorCode(s.cap.Role(), err),
			Phase:   phase,
			Message: err.Error(),
		})
	} else {
		reply, buildErr = message.NewReply(req, payload)
		if buildErr != nil {
			err = buildErr
			reply, buildErr = message.NewError(req, &message.ErrorPayload{
				Code:    message.ErrorCodeInternal,
				Message: fmt.Sprintf("invalid %s output: %v", s.cap.Role(), err),
			})
		}
	}

	s.notify(s.status.end(err))

	if buildErr != nil {
		log.Printf("[ERROR] Agent '%s' could not build reply for %s: %v", s.name, req.ID, buildErr)
		return
	}

	if err := s.broker.Publish(s.ctx, reply); err != nil {
		log.Printf("[ERROR] Agent '%s' failed to publish reply to %s: %v", s.name, req.Sender, err)
		return
	}
	log.Printf("[DEBUG] Agent '%s' answered %s with %s", s.name, req.ID, reply.Type)
}

// invoke validates the request, rebuilds the task and calls the capability,
// converting panics into errors.
func (s *Service) invoke(req *message.Message) (payload message.Payload, err error) {
	if want, ok := RequestKind(s.cap.Role()); ok && req.Kind != want {
		return nil, &invalidRequestError{fmt.Errorf("%s cannot handle %s", s.cap.Role(), req.Kind)}
	}

	input, err := req.Decode()
	if err != nil {
		return nil, &invalidRequestError{err}
	}

	phase, _ := message.PhaseOf(req.Kind)
	task := &message.Task{
		CorrelationID: req.CorrelationID,
		RequestID:     req.ID,
		Phase:         phase,
		Input:         input,
		Attempt:       1,
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Agent '%s' capability panicked: %v\n%s", s.name, r, debug.Stack())
			payload = nil
			err = &panicError{value: r}
		}
	}()

	out, err := s.cap.Handle(s.ctx, task)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &GenerationError{Role: s.cap.Role(), Err: fmt.Errorf("capability returned no output")}
	}
	return out, nil
}

func (s *Service) heartbeat() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.notify(s.status.beat())
		}
	}
}

// notify broadcasts a status_event to the watcher when the state changed.
func (s *Service) notify(state State, changed bool) {
	if !changed || s.cfg.Watcher == "" {
		return
	}

	evt, err := message.NewEvent(s.name, s.cfg.Watcher, "", &message.StatusEvent{Agent: s.name, State: string(state)})
	if err != nil {
		log.Printf("[WARN] Failed to build status event: %v", err)
		return
	}
	if err := s.broker.Publish(s.ctx, evt); err != nil {
		log.Printf("[DEBUG] Status event for '%s' not delivered: %v", s.name, err)
	}
}

type invalidRequestError struct{ err error }

func (e *invalidRequestError) Error() string { return "invalid request: " + e.err.Error() }

func (e *invalidRequestError) Unwrap() error { return e.err }

func (e *invalidRequestError) ErrorCode() message.ErrorCode { return message.ErrorCodeInvalidRequest }

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("capability panicked: %v", e.value) }

func (e *panicError) ErrorCode() message.ErrorCode { return message.ErrorCodeInternal }

// recentRequestWindow is how many accepted request ids a service remembers.
const recentRequestWindow = 1024

// recentIDs remembers the most recently accepted ids, oldest evicted first.
type recentIDs struct {
	mu   sync.Mutex
	ids  map[string]int
	ring []string
	next int
}

func newRecentIDs(size int) *recentIDs {
	return &recentIDs{ids: make(map[string]int, size), ring: make([]string, size)}
}

// add records id and reports false if it is already remembered.
func (r *recentIDs) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = r.next
	r.next = (r.next + 1) % len(r.ring)
	return true
}

func (r *recentIDs) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.ids[id]; ok {
		r.ring[slot] = ""
		delete(r.ids, id)
	}
}
