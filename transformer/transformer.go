package transformer

import (
	"context"

	"github.com/Batos41/cloud-computing-hw/source"
)

// Transformer converts one fetched request into another value.
//
// In this project it converts a source.Request into a widget Result.
// Implementations must be pure: no I/O and no wall-clock reads.
type Transformer[O any] interface {
	Transform(ctx context.Context, in source.Request) (O, error)
}
