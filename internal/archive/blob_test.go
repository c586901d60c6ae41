package archive_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/internal/archive"
	"github.com/perdura/perdura/pkg/api"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

func TestArchiveRecordRoundTrip(t *testing.T) {
	ctx := context.Background()

	store, err := archive.NewBlobStore(ctx, "mem://", "test/")
	assert.NoError(t, err)
	defer func() { _ = store.Close() }()

	id := api.WorkflowID("wf-123")

	_, err = store.ReadRecord(ctx, id)
	assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)

	rec := &archive.Record{
		State: &api.WorkflowState{
			ID:     id,
			Name:   "payment",
			Status: api.WorkflowSuccess,
			Output: api.Args{"receipt": "r-9"},
			Steps: api.StepRecords{
				0: {Name: "charge", Index: 0, Attempts: 1},
			},
		},
		Events: []*timebox.Event{
			{Type: "workflow_started"},
			{Type: "workflow_completed"},
		},
		ArchivedAt: time.Now(),
	}
	assert.NoError(t, store.WriteRecord(ctx, id, rec))

	got, err := store.ReadRecord(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, id, got.State.ID)
	assert.Equal(t, api.WorkflowSuccess, got.State.Status)
	assert.Equal(t, "r-9", got.State.Output.GetString("receipt", ""))
	assert.Len(t, got.Events, 2)
}

func TestBlobHibernator(t *testing.T) {
	ctx := context.Background()

	store, err := archive.NewBlobStore(ctx, "mem://", "test/")
	assert.NoError(t, err)
	defer func() { _ = store.Close() }()

	id := timebox.NewAggregateID("workflow", "wf-456")

	t.Run("Get returns not found for missing aggregate", func(t *testing.T) {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)
	})

	t.Run("Put and Get round-trip", func(t *testing.T) {
		record := &timebox.HibernateRecord{
			Events: []json.RawMessage{
				json.RawMessage(`{"type":"workflow_started"}`),
				json.RawMessage(`{"type":"step_completed"}`),
			},
			Snapshots: map[string]timebox.SnapshotRecord{
				"workflow": {
					Data:     json.RawMessage(`{"id":"wf-456"}`),
					Sequence: 7,
				},
			},
		}

		assert.NoError(t, store.Put(ctx, id, record))

		got, err := store.Get(ctx, id)
		assert.NoError(t, err)
		assert.Len(t, got.Events, 2)
		assert.Contains(t, string(got.Events[0]), "workflow_started")
		assert.Equal(t, int64(7), got.Snapshots["workflow"].Sequence)
	})

	t.Run("Delete removes aggregate", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, id))

		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)
	})

	t.Run("Delete on missing aggregate succeeds", func(t *testing.T) {
		missing := timebox.NewAggregateID("workflow", "nonexistent")
		assert.NoError(t, store.Delete(ctx, missing))
	})
}

func TestBlobStoreFileURL(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	store, err := archive.NewBlobStore(ctx, "file://"+tmpDir, "")
	assert.NoError(t, err)
	defer func() { _ = store.Close() }()

	id := api.WorkflowID("file-test")
	rec := &archive.Record{
		State:      &api.WorkflowState{ID: id, Status: api.WorkflowError},
		ArchivedAt: time.Now(),
	}
	assert.NoError(t, store.WriteRecord(ctx, id, rec))

	got, err := store.ReadRecord(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, api.WorkflowError, got.State.Status)
}
