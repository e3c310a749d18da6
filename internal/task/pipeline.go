package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/fablecast/fablecast-api/internal/events"
	"github.com/fablecast/fablecast-api/internal/generation"
	"github.com/google/uuid"
)

// priorTailLimit bounds how much prior-episode text is fed back into the
// next episode's prompt for continuity.
const priorTailLimit = 2000

// pipeline executes the staged generation loop for one task. Stage 0 is
// the outline, stages 1..Episodes are episode scripts. Each stage is
// streamed chunk by chunk onto the event bus and checkpointed on
// completion, so a later resume re-enters exactly one stage past the
// last durable one.
type pipeline struct {
	manager   *Manager
	taskID    uuid.UUID
	request   domain.ScriptRequest
	generator generation.Generator
	bus       *events.Bus
	retries   int
	delay     time.Duration
	logger    *slog.Logger
}

// run executes stages fromStage through the final episode. Cancellation
// is observed between chunks and between stages; a cancelled pipeline
// exits without publishing anything, since Cancel already published the
// terminal event and persisted the final status.
func (p *pipeline) run(ctx context.Context, fromStage int) {
	defer p.manager.pipelineStopped(p.taskID)

	total := p.request.Episodes + 1

	p.publish(events.NewStatusChanged("generation started"))

	for stage := fromStage; stage < total; stage++ {
		if ctx.Err() != nil {
			return
		}

		p.publish(events.NewStageStarted(stage))
		p.publish(events.NewProgress(stage, total))

		text, err := p.runStage(ctx, stage)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("stage failed",
				"stage", stage,
				"error", err)
			p.manager.finishFailed(p.taskID, err.Error())
			return
		}

		if err := p.manager.checkpointStage(p.taskID, stage, text); err != nil {
			if errors.Is(err, ErrInvalidState) || ctx.Err() != nil {
				// Cancelled between the last chunk and the checkpoint.
				return
			}
			p.logger.Error("checkpoint write failed",
				"stage", stage,
				"error", err)
			p.manager.finishFailed(p.taskID, fmt.Sprintf("checkpoint stage %d: %v", stage, err))
			return
		}

		p.publish(events.NewStageCompleted(stage, text))
		p.publish(events.NewProgress(stage+1, total))

		p.logger.Info("stage completed",
			"stage", stage,
			"chars", len(text))
	}

	p.manager.finishCompleted(p.taskID)
}

// runStage generates one stage's full text, retrying transient failures
// up to p.retries times. Partial output from a failed attempt is
// discarded and never published as part of a later attempt, so
// subscribers only ever see one coherent chunk sequence per stage.
func (p *pipeline) runStage(ctx context.Context, stage int) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= p.retries; attempt++ {
		if attempt > 1 {
			p.logger.Warn("retrying stage",
				"stage", stage,
				"attempt", attempt,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.delay):
			}
		}

		text, err := p.attemptStage(ctx, stage)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !errors.Is(err, generation.ErrTransientFailure) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("stage %d failed after %d attempts: %w", stage, p.retries, lastErr)
}

// attemptStage makes a single generation attempt for the stage, buffering
// the full text while publishing each chunk. Chunks are only published
// as they arrive, so a mid-stream transient failure means subscribers saw
// a prefix that the retry will replace; the final is_final marker and the
// stage_completed event only ever follow a successful attempt.
func (p *pipeline) attemptStage(ctx context.Context, stage int) (string, error) {
	stream, err := p.generator.GenerateStage(ctx, p.stageRequest(stage))
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if chunk == "" {
			continue
		}

		buf.WriteString(chunk)
		p.publish(events.NewContentChunk(stage, chunk, false))
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", generation.ErrEmptyOutput
	}

	p.publish(events.NewContentChunk(stage, "", true))
	return text, nil
}

// stageRequest assembles the generation request for a stage, pulling the
// checkpointed outline and prior-episode tail for episode stages.
func (p *pipeline) stageRequest(stage int) generation.StageRequest {
	if stage == 0 {
		return generation.StageRequest{
			Kind:    generation.StageOutline,
			Request: p.request,
		}
	}

	outline, prior := p.manager.stageTexts(p.taskID, stage)
	return generation.StageRequest{
		Kind:      generation.StageEpisode,
		Request:   p.request,
		Episode:   stage,
		Outline:   outline,
		PriorTail: tail(prior, priorTailLimit),
	}
}

// publish sends an event to the task's log, tolerating a log already
// closed by a concurrent cancel.
func (p *pipeline) publish(ev events.Event) {
	if _, err := p.bus.Publish(p.taskID, ev); err != nil {
		if !errors.Is(err, events.ErrLogClosed) {
			p.logger.Warn("failed to publish event",
				"event_type", ev.Type,
				"error", err)
		}
	}
}

// tail returns at most n trailing bytes of s, snapped forward to the
// next rune boundary so a multi-byte character is never split.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
