package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/perdura/perdura/pkg/api"
)

type (
	// BlobStore writes workflow archives and hibernated aggregates to a
	// gocloud.dev bucket, supporting S3, GCS, Azure Blob Storage, and
	// S3-compatible stores
	BlobStore struct {
		bucket *blob.Bucket
		prefix string
	}

	// Record is the durable archive of one terminal workflow: its final
	// state plus the full event history that produced it
	Record struct {
		State      *api.WorkflowState `json:"state"`
		Events     []*timebox.Event   `json:"events"`
		ArchivedAt time.Time          `json:"archived_at"`
	}
)

var _ timebox.Hibernator = (*BlobStore)(nil)

// NewBlobStore opens the bucket at the given URL. The prefix namespaces
// all keys written by this store
func NewBlobStore(
	ctx context.Context, bucketURL, prefix string,
) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobStore{bucket: bucket, prefix: prefix}, nil
}

// WriteRecord stores the archive record for a workflow
func (s *BlobStore) WriteRecord(
	ctx context.Context, id api.WorkflowID, rec *Record,
) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.recordKey(id), data, nil)
}

// ReadRecord retrieves a previously archived workflow, or
// timebox.ErrHibernateNotFound when none exists
func (s *BlobStore) ReadRecord(
	ctx context.Context, id api.WorkflowID,
) (*Record, error) {
	data, err := s.bucket.ReadAll(ctx, s.recordKey(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, timebox.ErrHibernateNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get implements timebox.Hibernator for cold aggregate offload
func (s *BlobStore) Get(
	ctx context.Context, id timebox.AggregateID,
) (*timebox.HibernateRecord, error) {
	data, err := s.bucket.ReadAll(ctx, s.hibernateKey(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, timebox.ErrHibernateNotFound
		}
		return nil, err
	}
	var rec timebox.HibernateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put implements timebox.Hibernator
func (s *BlobStore) Put(
	ctx context.Context, id timebox.AggregateID,
	rec *timebox.HibernateRecord,
) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.hibernateKey(id), data, nil)
}

// Delete implements timebox.Hibernator
func (s *BlobStore) Delete(
	ctx context.Context, id timebox.AggregateID,
) error {
	err := s.bucket.Delete(ctx, s.hibernateKey(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) recordKey(id api.WorkflowID) string {
	return s.prefix + "archived/" + string(id) + ".json"
}

func (s *BlobStore) hibernateKey(id timebox.AggregateID) string {
	return s.prefix + "hibernated/" + id.Join("/") + ".json"
}
