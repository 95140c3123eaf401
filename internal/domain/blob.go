package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lists objects in object storage.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// HistoryArchiver moves old probability history to cold storage.
type HistoryArchiver interface {
	ArchiveHistory(ctx context.Context, before time.Time) (int64, error)
}
