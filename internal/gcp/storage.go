package gcp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"google.golang.org/api/googleapi"
)

// BucketStore keeps uploaded files as objects in a GCS bucket.
type BucketStore struct {
	bucket *storage.BucketHandle
	name   string
}

// NewBucketStore wraps bucketName on client.
func NewBucketStore(client *storage.Client, bucketName string) *BucketStore {
	return &BucketStore{bucket: client.Bucket(bucketName), name: bucketName}
}

// URI returns the gs:// URI of an object.
func (b *BucketStore) URI(objectName string) string {
	return "gs://" + b.name + "/" + objectName
}

// Put writes data to objectName only if it doesn't already exist, so a
// retried upload never overwrites the first copy.
func (b *BucketStore) Put(ctx context.Context, objectName string, data []byte) error {
	writer := b.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			slog.Info("Skipping upload, object already exists.", "object", objectName)
			return nil
		}
		return errors.Wrapf(err, "failed to write gcs object %s", objectName)
	}

	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			slog.Info("Skipping upload, object already exists.", "object", objectName)
			return nil
		}
		return errors.Wrapf(err, "failed to finalize gcs object %s", objectName)
	}
	return nil
}

// Get reads the whole object.
func (b *BucketStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	r, err := b.bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(errors.ErrNotFound, "gcs object %s", objectName)
		}
		return nil, errors.Wrapf(err, "failed to open gcs object %s", objectName)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read gcs object %s", objectName)
	}
	return data, nil
}

// Delete removes the object. A missing object is not an error.
func (b *BucketStore) Delete(ctx context.Context, objectName string) error {
	err := b.bucket.Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "failed to delete gcs object %s", objectName)
	}
	return nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// DirStore keeps uploaded files in a local directory, for runs without a
// bucket. Writes follow the same create-once rule as BucketStore.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create upload dir %s", dir)
	}
	return &DirStore{dir: dir}, nil
}

func (d *DirStore) path(name string) string {
	return filepath.Join(d.dir, filepath.Base(name))
}

func (d *DirStore) Put(_ context.Context, name string, data []byte) error {
	f, err := os.OpenFile(d.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			slog.Info("Skipping upload, file already exists.", "file", name)
			return nil
		}
		return errors.Wrapf(err, "failed to create %s", name)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %s", name)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", name)
}

func (d *DirStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(d.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(errors.ErrNotFound, "file %s", name)
		}
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}
	return data, nil
}

func (d *DirStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(d.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "failed to delete %s", name)
	}
	return nil
}
