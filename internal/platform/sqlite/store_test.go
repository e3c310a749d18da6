package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRequest() domain.ScriptRequest {
	return domain.ScriptRequest{
		Genre:    "revenge",
		Duration: "2min",
		Episodes: 3,
		Characters: []string{
			"Lin Yan,female,24",
			"Gu Chen,male,28",
			"Su Wan,female,26",
			"Old Master Gu,male,61",
		},
	}
}

func TestOpenCreatesDatabaseDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "checkpoints.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	cp := checkpoint.New(uuid.New(), "client-7", testRequest())
	cp.Status = checkpoint.StatusRunning
	cp.CurrentStage = 1
	cp.Stages[0] = "outline text"
	cp.Stages[1] = "episode one text"

	require.NoError(t, store.Write(ctx, cp))

	got, err := store.Read(ctx, cp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, cp.TaskID, got.TaskID)
	assert.Equal(t, "client-7", got.ClientKey)
	assert.Equal(t, checkpoint.StatusRunning, got.Status)
	assert.Equal(t, 1, got.CurrentStage)
	assert.Equal(t, "outline text", got.Stages[0])
	assert.Equal(t, "episode one text", got.Stages[1])
	assert.Equal(t, cp.Request, got.Request)
}

func TestWriteReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	cp := checkpoint.New(uuid.New(), "client-7", testRequest())
	require.NoError(t, store.Write(ctx, cp))

	cp.Status = checkpoint.StatusFailed
	cp.CurrentStage = 0
	cp.Stages[0] = "outline text"
	cp.FailReason = "generator exhausted retries"
	cp.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Write(ctx, cp))

	got, err := store.Read(ctx, cp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, got.Status)
	assert.Equal(t, "generator exhausted retries", got.FailReason)
	assert.Equal(t, "outline text", got.Stages[0])
}

func TestReadMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Read(context.Background(), uuid.New())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestReadByClientKeyPicksLatest(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	older := checkpoint.New(uuid.New(), "shared-key", testRequest())
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Write(ctx, older))

	newer := checkpoint.New(uuid.New(), "shared-key", testRequest())
	newer.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Write(ctx, newer))

	got, err := store.ReadByClientKey(ctx, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, newer.TaskID, got.TaskID)

	_, err = store.ReadByClientKey(ctx, "absent")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestReadByClientKeyOrdersBySubSecondPrecision(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// .5s vs .52s: textual timestamps would sort these the wrong way
	// round, the nanosecond columns must not.
	base := time.Date(2026, 8, 28, 12, 0, 5, 0, time.UTC)

	older := checkpoint.New(uuid.New(), "shared-key", testRequest())
	older.UpdatedAt = base.Add(500 * time.Millisecond)
	require.NoError(t, store.Write(ctx, older))

	newer := checkpoint.New(uuid.New(), "shared-key", testRequest())
	newer.UpdatedAt = base.Add(520 * time.Millisecond)
	require.NoError(t, store.Write(ctx, newer))

	got, err := store.ReadByClientKey(ctx, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, newer.TaskID, got.TaskID)
	assert.True(t, got.UpdatedAt.Equal(newer.UpdatedAt))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	cp := checkpoint.New(uuid.New(), "c", testRequest())
	require.NoError(t, store.Write(ctx, cp))
	require.NoError(t, store.Delete(ctx, cp.TaskID))

	_, err := store.Read(ctx, cp.TaskID)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	assert.NoError(t, store.Delete(ctx, cp.TaskID), "deleting absent id is a no-op")
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	store, err := Open(path)
	require.NoError(t, err)

	cp := checkpoint.New(uuid.New(), "client-1", testRequest())
	cp.Status = checkpoint.StatusPaused
	cp.CurrentStage = 1
	cp.Stages[0] = "outline"
	cp.Stages[1] = "episode one"
	require.NoError(t, store.Write(ctx, cp))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Read(ctx, cp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusPaused, got.Status)
	assert.Equal(t, 1, got.CurrentStage)
	assert.Equal(t, "episode one", got.Stages[1], "stage text must survive restart byte-for-byte")
}

func TestWriteRejectsInvalid(t *testing.T) {
	store := openTestStore(t)
	assert.ErrorIs(t, store.Write(context.Background(), nil), checkpoint.ErrInvalidCheckpoint)
}
