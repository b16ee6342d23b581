package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/store"
	"github.com/rezonia/sifen-client/internal/tracker"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "batches.db"),
		PoolSize: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(id string, status tracker.Status) *tracker.BatchStatus {
	return &tracker.BatchStatus{
		ID:             id,
		Environment:    model.EnvTest,
		ProtocolNumber: "123456789",
		Status:         status,
		LastCode:       "0300",
		LastMessage:    "Lote recibido con exito",
		Attempts:       1,
		LastCheckedAt:  time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestSaveAndGetBatchStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saved := testBatch("202403151030005", tracker.StatusPending)
	require.NoError(t, s.SaveBatchStatus(ctx, saved))

	got, err := s.GetBatchStatus(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, model.EnvTest, got.Environment)
	assert.Equal(t, "123456789", got.ProtocolNumber)
	assert.Equal(t, tracker.StatusPending, got.Status)
	assert.Equal(t, "0300", got.LastCode)
	assert.Equal(t, "Lote recibido con exito", got.LastMessage)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.LastCheckedAt.Equal(saved.LastCheckedAt))
}

func TestGetBatchStatusUnknownID(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetBatchStatus(context.Background(), "999999999999999")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveBatchStatusDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bs := testBatch("202403151030001", tracker.StatusPending)
	require.NoError(t, s.SaveBatchStatus(ctx, bs))
	assert.Error(t, s.SaveBatchStatus(ctx, bs))
}

func TestLoadPendingBatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBatchStatus(ctx, testBatch("202403151030001", tracker.StatusPending)))
	require.NoError(t, s.SaveBatchStatus(ctx, testBatch("202403151030002", tracker.StatusProcessing)))
	require.NoError(t, s.SaveBatchStatus(ctx, testBatch("202403151030003", tracker.StatusDone)))
	require.NoError(t, s.SaveBatchStatus(ctx, testBatch("202403151030004", tracker.StatusError)))

	prod := testBatch("202403151030005", tracker.StatusPending)
	prod.Environment = model.EnvProd
	require.NoError(t, s.SaveBatchStatus(ctx, prod))

	pending, err := s.LoadPendingBatches(ctx, model.EnvTest)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "202403151030001", pending[0].ID)
	assert.Equal(t, "202403151030002", pending[1].ID)
}

func TestUpdateBatchStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bs := testBatch("202403151030001", tracker.StatusPending)
	require.NoError(t, s.SaveBatchStatus(ctx, bs))

	bs.Status = tracker.StatusDone
	bs.LastCode = "0362"
	bs.LastMessage = "Procesamiento de lote concluido"
	bs.Attempts = 3
	bs.LastCheckedAt = bs.LastCheckedAt.Add(30 * time.Second)
	require.NoError(t, s.UpdateBatchStatus(ctx, bs))

	got, err := s.GetBatchStatus(ctx, bs.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tracker.StatusDone, got.Status)
	assert.Equal(t, "0362", got.LastCode)
	assert.Equal(t, 3, got.Attempts)

	pending, err := s.LoadPendingBatches(ctx, model.EnvTest)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpdateBatchStatusUnknownID(t *testing.T) {
	s := openTestStore(t)

	err := s.UpdateBatchStatus(context.Background(), testBatch("202403151030009", tracker.StatusDone))
	assert.Error(t, err)
}
