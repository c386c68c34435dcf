package rcm

import (
	"context"
	"io"
)

// PartProgress reports one completed chunk of a multipart upload.
type PartProgress struct {
	Key  string
	Part int // 1-based part number
}

// CloudStore is the capability interface over an S3-compatible object store.
// Implementations are expected to suspend on I/O, not block.
type CloudStore interface {
	// Upload stores the bytes from r under key. When progress is non-nil
	// it is invoked after each completed part.
	Upload(ctx context.Context, key string, r io.Reader, progress func(PartProgress)) error

	// Delete removes the object. Deleting a missing object is success.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Move renames an object (copy then delete).
	Move(ctx context.Context, fromKey, toKey string) error

	// Download retrieves an object and writes it to w.
	Download(ctx context.Context, key string, w io.Writer) error
}

// CloudConnector opens sessions to the object store. The sync engine
// connects lazily, only when there is work to do.
type CloudConnector interface {
	Connect(ctx context.Context) (CloudStore, error)
}
