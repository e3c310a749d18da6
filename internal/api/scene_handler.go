package api

import (
	"log/slog"
	"net/http"

	"github.com/fablecast/fablecast-api/internal/api/shared"
	"github.com/fablecast/fablecast-api/internal/platform/logger"
	"github.com/fablecast/fablecast-api/internal/scene"
)

// SceneHandler serves scene prompt extraction from finalized script text.
type SceneHandler struct {
	extractor scene.Extractor
	logger    *slog.Logger
}

// NewSceneHandler creates a SceneHandler.
func NewSceneHandler(extractor scene.Extractor, log *slog.Logger) *SceneHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SceneHandler")
	}
	return &SceneHandler{
		extractor: extractor,
		logger:    log.With(slog.String("component", "scene_handler")),
	}
}

// ExtractScenePrompts handles POST /stream/extract-scene-prompts. It
// parses the submitted script text and streams one scene_prompt frame
// per extracted prompt, then a complete frame.
func (h *SceneHandler) ExtractScenePrompts(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req ExtractScenePromptsRequest
	if err := shared.DecodeAndValidate(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	prompts, err := h.extractor.Extract(req.Text)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Scene prompt extraction failed", err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	log.Debug("extracted scene prompts", slog.Int("count", len(prompts)))

	for _, p := range prompts {
		if err := sse.send(-1, "scene_prompt", p); err != nil {
			return
		}
	}
	_ = sse.send(-1, "complete", emptyPayload{})
}
