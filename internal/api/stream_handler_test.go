package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/fablecast/fablecast-api/internal/events"
	"github.com/fablecast/fablecast-api/internal/generation"
	"github.com/fablecast/fablecast-api/internal/scene"
	"github.com/fablecast/fablecast-api/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream replays canned chunks and then reports io.EOF.
type fakeStream struct {
	chunks []string
	next   int
}

func (s *fakeStream) Next(ctx context.Context) (string, error) {
	if s.next < len(s.chunks) {
		c := s.chunks[s.next]
		s.next++
		return c, nil
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error { return nil }

// fakeGenerator produces deterministic per-stage text, with an optional
// error injected for one stage.
type fakeGenerator struct {
	failStage int
	failErr   error
}

func (g *fakeGenerator) GenerateStage(ctx context.Context, req generation.StageRequest) (generation.ChunkStream, error) {
	if g.failErr != nil && req.Episode == g.failStage {
		return nil, g.failErr
	}
	return &fakeStream{chunks: stageChunks(req.Episode)}, nil
}

func stageChunks(stage int) []string {
	if stage == 0 {
		return []string{"# Title: Test Drama\n", "# Episode directory"}
	}
	return []string{fmt.Sprintf("Episode %d scene. ", stage), "Dialogue continues."}
}

func stageText(stage int) string {
	return strings.Join(stageChunks(stage), "")
}

type testAPI struct {
	router  http.Handler
	manager *task.Manager
	bus     *events.Bus
	store   *checkpoint.MemoryStore
}

func newTestAPI(t *testing.T, g generation.Generator) *testAPI {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	bus := events.NewBus(testLogger())
	cfg := task.ManagerConfig{StageRetries: 3, RetryDelay: time.Millisecond}
	manager := task.NewManager(store, bus, g, cfg, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return &testAPI{
		router:  NewRouter(manager, bus, scene.NewMarkerExtractor(), testLogger()),
		manager: manager,
		bus:     bus,
		store:   store,
	}
}

func validBody(episodes int, clientKey string) string {
	body := map[string]interface{}{
		"genre":      "thriller",
		"duration":   "5 minutes",
		"episodes":   episodes,
		"characters": []string{"Mira,female,34", "Joss,male,41", "Ada,female,29", "Theo,male,55"},
	}
	if clientKey != "" {
		body["client_key"] = clientKey
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

type sseFrame struct {
	ID    string
	Event string
	Data  map[string]interface{}
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				f.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				raw := strings.TrimPrefix(line, "data: ")
				require.NoError(t, json.Unmarshal([]byte(raw), &f.Data))
			}
		}
		require.NotEmpty(t, f.Event, "frame without event name: %q", block)
		frames = append(frames, f)
	}
	return frames
}

func framesOf(frames []sseFrame, event string) []sseFrame {
	var out []sseFrame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// runToTerminal starts a task directly on the manager and waits for its
// terminal event.
func runToTerminal(t *testing.T, a *testAPI, episodes int, clientKey string) uuid.UUID {
	t.Helper()
	req := domain.ScriptRequest{
		Genre:    "thriller",
		Duration: "5 minutes",
		Episodes: episodes,
		Characters: []string{
			"Mira,female,34", "Joss,male,41", "Ada,female,29", "Theo,male,55",
		},
	}
	taskID, err := a.manager.CreateTask(context.Background(), req, clientKey)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := a.bus.Subscribe(ctx, taskID, 0)
	require.NoError(t, err)
	require.NoError(t, a.manager.Start(taskID))
	for range ch {
	}
	return taskID
}

func TestGenerateScriptStreamsFullRun(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodPost, "/stream/generate-script",
		bytes.NewBufferString(validBody(3, "")))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, frames)

	// First frame identifies the task; last frame completes the stream.
	assert.Equal(t, "task_id", frames[0].Event)
	taskID := frames[0].Data["task_id"].(string)
	assert.NotEmpty(t, taskID)
	assert.Equal(t, "complete", frames[len(frames)-1].Event)

	// Exactly one initial_content frame carrying the full outline.
	initial := framesOf(frames, "initial_content")
	require.Len(t, initial, 1)
	assert.Equal(t, stageText(0), initial[0].Data["content"])

	// For each episode: a run of incomplete chunks, then exactly one
	// is_complete marker, then the assembled episode_content frame.
	for episode := 1; episode <= 3; episode++ {
		var buf strings.Builder
		completes := 0
		for _, f := range framesOf(frames, "episode_content_chunk") {
			if int(f.Data["episode"].(float64)) != episode {
				continue
			}
			if f.Data["is_complete"].(bool) {
				completes++
				continue
			}
			buf.WriteString(f.Data["content"].(string))
		}
		assert.Equal(t, 1, completes, "episode %d must close with one is_complete chunk", episode)
		assert.Equal(t, stageText(episode), buf.String())
	}

	contents := framesOf(frames, "episode_content")
	require.Len(t, contents, 3)
	for i, f := range contents {
		assert.Equal(t, i+1, int(f.Data["episode"].(float64)))
		assert.Equal(t, stageText(i+1), f.Data["content"])
	}

	// Exactly one terminal frame.
	terminals := 0
	for _, f := range frames {
		if f.Event == "complete" || f.Event == "error" || f.Event == "cancelled" {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestGenerateScriptRejectsInvalidRoster(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	body := `{"genre":"thriller","duration":"5 minutes","episodes":2,"characters":["Mira,female,34"]}`
	req := httptest.NewRequest(http.MethodPost, "/stream/generate-script",
		bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid generation request")
}

func TestGenerateScriptRejectsMalformedJSON(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodPost, "/stream/generate-script",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateScriptStreamsErrorOnFailure(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{failStage: 1, failErr: generation.ErrContentBlocked})

	req := httptest.NewRequest(http.MethodPost, "/stream/generate-script",
		bytes.NewBufferString(validBody(1, "")))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last.Event)
	assert.NotEmpty(t, last.Data["message"])
}

func TestAttachReplaysFromSeq(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 1, "")

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/stream/attach/%s?from_seq=0", taskID), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	assert.Equal(t, "task_id", frames[0].Event)
	assert.Equal(t, "complete", frames[len(frames)-1].Event)

	// Frame ids carry the bus sequence so clients can reconnect from
	// their last-seen position.
	assert.Equal(t, "0", frames[0].ID)
}

func TestAttachPartialReplay(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 1, "")

	full := httptest.NewRecorder()
	a.router.ServeHTTP(full, httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/stream/attach/%s", taskID), nil))
	all := parseSSE(t, full.Body.String())

	// Re-attach from the middle of the sequence: the replay starts at
	// exactly that sequence number.
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/stream/attach/%s?from_seq=3", taskID), nil))
	partial := parseSSE(t, rec.Body.String())

	assert.Less(t, len(partial), len(all))
	assert.Equal(t, "3", partial[0].ID)
	assert.Equal(t, "complete", partial[len(partial)-1].Event)
}

func TestAttachUnknownTask(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/stream/attach/%s", uuid.New()), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttachInvalidFromSeq(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/stream/attach/%s?from_seq=banana", uuid.New()), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachTerminalReplayFromCheckpoint(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 1, "")

	// Simulate the retention window dropping the in-memory log; the
	// terminal state must still be replayable from the checkpoint.
	a.bus.Drop(taskID)

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/stream/attach/%s", taskID), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "task_id", frames[0].Event)
	assert.Equal(t, "complete", frames[1].Event)
}

func TestResumeStreamsResumedRun(t *testing.T) {
	g := &fakeGenerator{failStage: 2, failErr: generation.ErrContentBlocked}
	a := newTestAPI(t, g)
	taskID := runToTerminal(t, a, 2, "")

	snap, err := a.manager.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, snap.Status)

	g.failErr = nil
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/tasks/%s/resume", taskID), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	assert.Equal(t, "complete", frames[len(frames)-1].Event)

	// The resumed stream carries only episode 2.
	chunks := framesOf(frames, "episode_content_chunk")
	require.NotEmpty(t, chunks)
	for _, f := range chunks {
		assert.Equal(t, 2, int(f.Data["episode"].(float64)))
	}
}

func TestResumeCompletedTaskConflicts(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 1, "")

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/tasks/%s/resume", taskID), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
