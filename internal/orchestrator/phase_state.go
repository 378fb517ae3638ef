package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/quill/pkg/message"
)

// State is a workflow's position in the phase state machine.
type State string

const (
	StateInit          State = "INIT"
	StateStoryCreation State = "STORY_CREATION"
	StateIllustration  State = "ILLUSTRATION"
	StatePublication   State = "PUBLICATION"
	StateComplete      State = "COMPLETE"
	StateFailed        State = "FAILED"
)

// transitions lists the legal next states. FAILED is reachable from every
// state that is not already final.
var transitions = map[State][]State{
	StateInit:          {StateStoryCreation, StateFailed},
	StateStoryCreation: {StateIllustration, StateFailed},
	StateIllustration:  {StatePublication, StateFailed},
	StatePublication:   {StateComplete, StateFailed},
}

// CanTransition reports whether a workflow in s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsFinal reports whether s is an absorbing state.
func (s State) IsFinal() bool {
	return s == StateComplete || s == StateFailed
}

// Phase returns the workflow phase run in s, if any.
func (s State) Phase() (message.Phase, bool) {
	switch s {
	case StateStoryCreation:
		return message.PhaseStoryCreation, true
	case StateIllustration:
		return message.PhaseIllustration, true
	case StatePublication:
		return message.PhasePublication, true
	default:
		return "", false
	}
}

// Status is the caller-facing outcome of a workflow.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Metadata summarises a finished publication.
type Metadata struct {
	Title     string `json:"title"`
	Chapters  int    `json:"chapters"`
	Images    int    `json:"images"`
	PageCount int    `json:"page_count"`
}

// WorkflowResult is the single outcome of one CreateStory call.
type WorkflowResult struct {
	CorrelationID string                 `json:"correlation_id"`
	Status        Status                 `json:"status"`
	State         State                  `json:"state"`
	Story         *message.StoryResponse `json:"story,omitempty"`
	Images        []message.Image        `json:"images,omitempty"`
	Publications  map[string]string      `json:"publications"`
	Metadata      Metadata               `json:"metadata"`
	FailedPhase   message.Phase          `json:"failed_phase,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at,omitempty"`
}

// TaskStatus is the read-only view returned by Orchestrator.TaskStatus.
type TaskStatus struct {
	CorrelationID string        `json:"correlation_id"`
	State         State         `json:"state"`
	Status        Status        `json:"status"`
	Phase         message.Phase `json:"phase,omitempty"`
	Pending       int           `json:"pending_requests"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// workflow is the orchestrator's record of one correlation id. The result is
// mutated only through the methods below and frozen once final.
type workflow struct {
	mu         sync.Mutex
	result     WorkflowResult
	tasks      map[string]*message.Task // requestID -> in-flight task
	phaseStart time.Time
	updatedAt  time.Time
}

func newWorkflow(correlationID string) *workflow {
	now := time.Now()
	return &workflow{
		result: WorkflowResult{
			CorrelationID: correlationID,
			Status:        StatusPending,
			State:         StateInit,
			Publications:  map[string]string{},
			StartedAt:     now,
		},
		tasks:     make(map[string]*message.Task),
		updatedAt: now,
	}
}

// transition moves the workflow to next, rejecting illegal moves.
func (w *workflow) transition(next State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.result.State
	if !current.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for workflow %s", current, next, w.result.CorrelationID)
	}

	w.result.State = next
	w.phaseStart = time.Now()
	w.updatedAt = w.phaseStart
	return nil
}

// phaseDuration returns how long the current state has been active.
func (w *workflow) phaseDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.phaseStart)
}

// update applies fn to the result unless the workflow is already final.
func (w *workflow) update(fn func(r *WorkflowResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result.State.IsFinal() {
		return
	}
	fn(&w.result)
	w.updatedAt = time.Now()
}

// complete finalizes a successful workflow.
func (w *workflow) complete() error {
	if err := w.transition(StateComplete); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result.Status = StatusComplete
	w.result.FinishedAt = w.updatedAt
	w.tasks = map[string]*message.Task{}
	return nil
}

// fail finalizes a failed workflow. Failing a final workflow is a no-op.
func (w *workflow) fail(phase message.Phase, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result.State.IsFinal() {
		return
	}

	w.result.State = StateFailed
	w.result.Status = StatusFailed
	w.result.FailedPhase = phase
	w.result.Error = err.Error()
	w.result.Story = nil
	w.result.Images = nil
	w.result.Publications = map[string]string{}
	w.result.Metadata = Metadata{}
	w.updatedAt = time.Now()
	w.result.FinishedAt = w.updatedAt
	w.tasks = map[string]*message.Task{}
}

func (w *workflow) addTask(t *message.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks[t.RequestID] = t
}

func (w *workflow) dropTask(requestID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tasks, requestID)
}

// snapshot returns a deep copy of the result.
func (w *workflow) snapshot() *WorkflowResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := w.result
	r.Publications = make(map[string]string, len(w.result.Publications))
	for k, v := range w.result.Publications {
		r.Publications[k] = v
	}
	if w.result.Images != nil {
		r.Images = append([]message.Image(nil), w.result.Images...)
	}
	if w.result.Story != nil {
		s := *w.result.Story
		s.Chapters = append([]message.Chapter(nil), w.result.Story.Chapters...)
		s.Characters = append([]message.Character(nil), w.result.Story.Characters...)
		r.Story = &s
	}
	return &r
}

func (w *workflow) status() TaskStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	phase, _ := w.result.State.Phase()
	if w.result.State == StateFailed {
		phase = w.result.FailedPhase
	}
	return TaskStatus{
		CorrelationID: w.result.CorrelationID,
		State:         w.result.State,
		Status:        w.result.Status,
		Phase:         phase,
		Pending:       len(w.tasks),
		UpdatedAt:     w.updatedAt,
	}
}
