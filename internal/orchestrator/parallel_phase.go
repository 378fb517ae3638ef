package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/quill/pkg/message"
)

// runIllustration fans one request per scene out to the illustrator and
// waits for all of them. The first failure cancels the remaining waits of
// this workflow and discards every image already received.
func (o *Orchestrator) runIllustration(ctx context.Context, wf *workflow, idea message.StoryIdea,
	story *message.StoryResponse, deadline time.Time) ([]message.Image, error) {

	phase := message.PhaseIllustration
	scenes := DeriveScenes(story.Chapters, o.cfg.ScenesPerChapter)

	if err := o.enterPhase(wf, StateIllustration, map[string]interface{}{
		"scene_count": len(scenes),
	}); err != nil {
		return nil, err
	}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wait := phaseWait(o.cfg.IllustrationTimeout, deadline)

	images := make([]message.Image, len(scenes))

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		firstErr error
	)
	fail := func(err error) {
		failOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var sem chan struct{}
	if o.cfg.MaxConcurrentScenes > 0 {
		sem = make(chan struct{}, o.cfg.MaxConcurrentScenes)
	}

	for _, scene := range scenes {
		wg.Add(1)
		go func(scene message.Scene) {
			defer wg.Done()

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-phaseCtx.Done():
					return
				}
			}
			if phaseCtx.Err() != nil {
				return
			}

			req := &message.IllustrationRequest{
				Scene:      scene,
				Style:      idea.ArtStyle,
				Characters: story.Characters,
			}
			out, err := o.request(phaseCtx, wf, phase, o.cfg.Illustrator, req, wait)
			if err != nil {
				if phaseCtx.Err() == context.Canceled && ctx.Err() == nil {
					// Cancelled because a sibling scene already failed.
					return
				}
				fail(phaseError(phase, fmt.Errorf("scene %d: %w", scene.Index, err)))
				return
			}

			resp, ok := out.(*message.IllustrationResponse)
			if !ok || resp.SceneIndex != scene.Index {
				fail(&PhaseError{Phase: phase, Err: fmt.Errorf("scene %d: unexpected reply %s", scene.Index, out.Kind())})
				return
			}

			img := resp.Image
			if img.Chapter == 0 {
				img.Chapter = scene.Chapter
			}
			if img.SceneID == "" {
				img.SceneID = scene.ID
			}
			images[scene.Index] = img
			log.Printf("[DEBUG] Scene %d illustrated for %s", scene.Index, wf.result.CorrelationID)
		}(scene)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, phaseError(phase, err)
	}

	wf.update(func(r *WorkflowResult) {
		r.Images = images
		r.Metadata.Images = len(images)
	})
	o.completePhase(wf, phase)
	return images, nil
}
