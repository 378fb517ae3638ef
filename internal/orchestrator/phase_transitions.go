package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/pkg/message"
)

// phaseWait is the wait for one phase: its configured timeout, cut short by
// the workflow deadline.
func phaseWait(configured time.Duration, deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if remaining < configured {
		return remaining
	}
	return configured
}

// enterPhase transitions the workflow and logs the phase start.
func (o *Orchestrator) enterPhase(wf *workflow, next State, fields map[string]interface{}) error {
	if err := wf.transition(next); err != nil {
		return err
	}
	fields["correlation_id"] = wf.result.CorrelationID
	fields["state"] = next
	o.logEvent("phase_started", fields)
	return nil
}

// completePhase logs the end of the current phase.
func (o *Orchestrator) completePhase(wf *workflow, phase message.Phase) {
	o.logEvent("phase_complete", map[string]interface{}{
		"correlation_id": wf.result.CorrelationID,
		"phase":          phase,
		"duration_ms":    wf.phaseDuration().Milliseconds(),
	})
}

// phaseError classifies a request failure for the phase it happened in.
func phaseError(phase message.Phase, err error) *PhaseError {
	return &PhaseError{Phase: phase, Timeout: broker.IsTimeout(err), Err: err}
}

// request sends one phase request and waits for its terminal message. Both
// are recorded in history; a request the broker could not deliver is not.
// An error message from the agent is returned as its *message.ErrorPayload.
func (o *Orchestrator) request(ctx context.Context, wf *workflow, phase message.Phase, recipient string,
	p message.Payload, wait time.Duration) (message.Payload, error) {

	cid := wf.result.CorrelationID
	if wait <= 0 {
		return nil, &broker.TimeoutError{CorrelationID: cid, Recipient: recipient}
	}

	req, err := message.NewRequest(o.cfg.Name, recipient, cid, p)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", phase, err)
	}

	task := &message.Task{
		CorrelationID: cid,
		RequestID:     req.ID,
		Phase:         phase,
		Input:         p,
		Attempt:       1,
		Deadline:      time.Now().Add(wait),
	}
	wf.addTask(task)
	defer wf.dropTask(req.ID)

	log.Printf("[DEBUG] Sending %s to %s: correlation_id=%s request_id=%s wait=%s",
		req.Kind, recipient, cid, req.ID, wait.Round(time.Millisecond))

	reply, err := o.broker.Request(ctx, req, wait)
	if err != nil {
		if !broker.IsDelivery(err) {
			o.record(ctx, req)
		}
		return nil, err
	}
	o.record(ctx, req)
	o.record(ctx, reply)

	payload, err := reply.Decode()
	if err != nil {
		return nil, fmt.Errorf("malformed %s from %s: %w", reply.Kind, reply.Sender, err)
	}

	if reply.Type == message.TypeError {
		if ep, ok := payload.(*message.ErrorPayload); ok {
			return nil, ep
		}
		return nil, fmt.Errorf("error reply carried %s payload", reply.Kind)
	}
	return payload, nil
}

// runStoryCreation asks the author for the story and records it.
func (o *Orchestrator) runStoryCreation(ctx context.Context, wf *workflow, idea message.StoryIdea,
	deadline time.Time) (*message.StoryResponse, error) {

	phase := message.PhaseStoryCreation
	if err := o.enterPhase(wf, StateStoryCreation, map[string]interface{}{
		"length": idea.Length,
	}); err != nil {
		return nil, err
	}

	out, err := o.request(ctx, wf, phase, o.cfg.Author, &message.StoryRequest{Idea: idea},
		phaseWait(o.cfg.StoryTimeout, deadline))
	if err != nil {
		return nil, phaseError(phase, err)
	}

	story, ok := out.(*message.StoryResponse)
	if !ok {
		return nil, &PhaseError{Phase: phase, Err: fmt.Errorf("expected %s, got %s", message.KindStoryResponse, out.Kind())}
	}
	if story.Title == "" {
		story.Title = idea.Title
	}

	wf.update(func(r *WorkflowResult) {
		r.Story = story
		r.Metadata.Title = story.Title
		r.Metadata.Chapters = len(story.Chapters)
	})
	o.completePhase(wf, phase)
	return story, nil
}

// runPublication sends the assembled story to the publisher.
func (o *Orchestrator) runPublication(ctx context.Context, wf *workflow, idea message.StoryIdea,
	story *message.StoryResponse, images []message.Image, deadline time.Time) error {

	phase := message.PhasePublication
	if err := o.enterPhase(wf, StatePublication, map[string]interface{}{
		"images": len(images),
	}); err != nil {
		return err
	}

	sorted := append([]message.Image(nil), images...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SceneIndex < sorted[j].SceneIndex })

	req := &message.PublicationRequest{
		Title:    story.Title,
		Chapters: story.Chapters,
		Images:   sorted,
		Formats:  o.cfg.Formats,
	}

	out, err := o.request(ctx, wf, phase, o.cfg.Publisher, req, phaseWait(o.cfg.PublicationTimeout, deadline))
	if err != nil {
		return phaseError(phase, err)
	}

	pub, ok := out.(*message.PublicationResponse)
	if !ok {
		return &PhaseError{Phase: phase, Err: fmt.Errorf("expected %s, got %s", message.KindPublicationResponse, out.Kind())}
	}

	wf.update(func(r *WorkflowResult) {
		for format, path := range pub.Artifacts {
			r.Publications[format] = path
		}
		r.Metadata = Metadata{
			Title:     story.Title,
			Chapters:  pub.Metadata.ChapterCount,
			Images:    pub.Metadata.ImageCount,
			PageCount: pub.Metadata.PageCount,
		}
	})
	o.completePhase(wf, phase)
	return nil
}
