package generation

import (
	"context"

	"github.com/fablecast/fablecast-api/internal/domain"
)

// StageKind distinguishes the outline/cast stage from episode stages.
type StageKind string

const (
	// StageOutline is the first stage: character roster table plus the
	// full episode directory for the series.
	StageOutline StageKind = "outline"

	// StageEpisode generates the script of a single episode.
	StageEpisode StageKind = "episode"
)

// StageRequest describes one unit of generation work. The outline stage
// carries only the script request; episode stages additionally carry the
// finished outline and the tail of prior episodes for continuity.
type StageRequest struct {
	Kind    StageKind
	Request domain.ScriptRequest

	// Episode is the 1-based episode number. Zero for the outline stage.
	Episode int

	// Outline is the completed outline-stage output. Empty for the
	// outline stage itself.
	Outline string

	// PriorTail is the trailing portion of already-generated episode
	// text, included so the model keeps continuity across episodes.
	PriorTail string
}

// ChunkStream is a lazy, cancellable sequence of text fragments produced
// by a generator backend. Next blocks until a fragment is available and
// returns io.EOF once the stream is exhausted. Close releases the
// underlying call; it is safe to call Close more than once.
type ChunkStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Generator is the boundary between the task engine and the external
// LLM service. Implementations produce a possibly long-lived stream of
// text chunks for one stage and surface transient failures with
// ErrTransientFailure so the pipeline can retry the stage.
type Generator interface {
	GenerateStage(ctx context.Context, req StageRequest) (ChunkStream, error)
}
