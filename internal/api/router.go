package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apimw "github.com/fablecast/fablecast-api/internal/api/middleware"
	"github.com/fablecast/fablecast-api/internal/events"
	"github.com/fablecast/fablecast-api/internal/scene"
	"github.com/fablecast/fablecast-api/internal/task"
)

// NewRouter builds the application router with all routes and middleware.
func NewRouter(
	manager *task.Manager,
	bus *events.Bus,
	extractor scene.Extractor,
	log *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(apimw.TraceMiddleware)

	streamHandler := NewStreamHandler(manager, bus, log)
	taskHandler := NewTaskHandler(manager, log)
	sceneHandler := NewSceneHandler(extractor, log)

	r.Route("/stream", func(r chi.Router) {
		r.Post("/generate-script", streamHandler.GenerateScript)
		r.Get("/attach/{taskID}", streamHandler.Attach)
		r.Delete("/cancel/{taskID}", taskHandler.Cancel)
		r.Post("/extract-scene-prompts", sceneHandler.ExtractScenePrompts)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/{taskID}/resume", streamHandler.Resume)
		r.Get("/{taskID}/status", taskHandler.Status)
		r.Get("/{taskID}/transcript", taskHandler.Transcript)
	})

	r.Get("/generation-status/{clientKey}", taskHandler.StatusByClientKey)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
