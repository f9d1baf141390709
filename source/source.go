package source

import (
	"context"
	"iter"
	"time"
)

// Handle identifies one pending request as returned by a listing.
type Handle struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Request is a fetched request object.
//
// The source does not impose any schema on Body; it is the transformer's
// responsibility to validate and convert it into a widget.
type Request struct {
	Key          string
	Body         []byte
	LastModified time.Time
	ETag         string
	// Truncated marks a Body cut at the source's size limit.
	Truncated bool
}

// Sourcer lists, fetches and deletes request objects.
//
// List yields the currently visible requests in listing order and stops at the
// first error. An empty sequence is a normal outcome. Fetch fails with a
// failure.NotFound error when the object vanished after it was listed. A body
// over the size limit fails with failure.Malformed and still returns the
// Request, truncated, so it can be quarantined. Delete treats an already
// missing object as success.
type Sourcer interface {
	List(ctx context.Context) iter.Seq2[Handle, error]
	Fetch(ctx context.Context, h Handle) (Request, error)
	Delete(ctx context.Context, h Handle) error
}
