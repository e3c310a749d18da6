package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelAcknowledges(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 1, "")

	// Cancelling a terminal task is still acknowledged.
	req := httptest.NewRequest(http.MethodDelete,
		fmt.Sprintf("/stream/cancel/%s", taskID), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, taskID.String(), resp.TaskID)
	assert.Equal(t, "cancelled", resp.Status)
}

func TestCancelUnknownTask(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodDelete,
		fmt.Sprintf("/stream/cancel/%s", uuid.New()), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelInvalidTaskID(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodDelete, "/stream/cancel/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusByClientKey(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 2, "client-77")

	req := httptest.NewRequest(http.MethodGet, "/generation-status/client-77", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, taskID.String(), resp.TaskID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 2, resp.CurrentStage)
	assert.InDelta(t, 1.0, resp.Progress, 1e-9)
	assert.Contains(t, resp.Transcript, stageText(1))
	assert.Contains(t, resp.Transcript, stageText(2))
}

func TestStatusByClientKeyUnknown(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/generation-status/nobody", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscript(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})
	taskID := runToTerminal(t, a, 1, "")

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/tasks/%s/transcript", taskID), nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TranscriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, stageText(0)+"\n\n"+stageText(1), resp.Transcript)
}

func TestExtractScenePromptsStream(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	script := "# Episode 1\nScene 1-1: Opening\n# A foggy harbor at dawn\n# A lone fishing boat\n"
	body, _ := json.Marshal(map[string]string{"text": script})

	req := httptest.NewRequest(http.MethodPost, "/stream/extract-scene-prompts",
		bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	prompts := framesOf(frames, "scene_prompt")
	require.Len(t, prompts, 2)
	assert.Equal(t, "# A foggy harbor at dawn", prompts[0].Data["prompt"])
	assert.Equal(t, "1-1", prompts[0].Data["scene"])
	assert.Equal(t, "complete", frames[len(frames)-1].Event)
}

func TestExtractScenePromptsRequiresText(t *testing.T) {
	a := newTestAPI(t, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodPost, "/stream/extract-scene-prompts",
		bytes.NewBufferString(`{"text":""}`))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
