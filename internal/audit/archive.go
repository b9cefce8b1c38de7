package audit

import (
	"context"
	"io"
)

// Archive is long-term storage for exported audit batches.
type Archive interface {
	// Put stores body under key, replacing any previous object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) error

	// Open streams an archived object back.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Location returns where the object can be fetched from.
	Location(ctx context.Context, key string) (string, error)
}
