// Package gcs uploads exported result files to a Google Cloud Storage
// bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket. Prefix is prepended to every object
// key; Metadata is attached to every uploaded object.
type Config struct {
	Bucket   string
	Prefix   string
	Metadata map[string]string
}

// BlobStore uploads export files into one bucket.
type BlobStore struct {
	bucket   *storage.BucketHandle
	name     string
	prefix   string
	metadata map[string]string
}

// New returns a BlobStore writing to cfg.Bucket through client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{
		bucket:   client.Bucket(name),
		name:     name,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		metadata: maps.Clone(cfg.Metadata),
	}, nil
}

// ObjectName maps an export file name to its key in the bucket.
func (s *BlobStore) ObjectName(file string) string {
	if s.prefix == "" {
		return file
	}
	return path.Join(s.prefix, file)
}

// URI returns the gs:// location an upload of file lands at.
func (s *BlobStore) URI(file string) string {
	return "gs://" + s.name + "/" + s.ObjectName(file)
}

// PutObject streams r into the bucket. Objects are served as attachments
// named after the export file so browsers download them.
func (s *BlobStore) PutObject(ctx context.Context, file string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(file) == "" {
		return "", errors.New("gcs: object path is required")
	}
	w := s.bucket.Object(s.ObjectName(file)).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentDisposition = fmt.Sprintf("attachment; filename=%q", path.Base(file))
	if len(s.metadata) > 0 {
		w.Metadata = maps.Clone(s.metadata)
	}

	if _, err := io.Copy(w, r); err != nil {
		// Close aborts the upload; its error only adds noise here.
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", file, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", file, err)
	}
	return s.URI(file), nil
}
