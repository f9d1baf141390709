package encoder

import (
	"context"
	"fmt"

	"github.com/Batos41/cloud-computing-hw/widget"
)

// Encoder converts a widget into the object body stored by the S3 sink.
//
// Implementations must be deterministic (equal widgets give equal bytes) so
// rewriting a widget is idempotent, and safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, w widget.Widget) (data []byte, err error)
	FileExtension() string
	ContentType() string
}

// Format names accepted by ForFormat.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
	FormatParquet = "parquet"
)

// ForFormat returns the encoder registered under name.
func ForFormat(name string) (Encoder, error) {
	switch name {
	case "", FormatJSON:
		return JSONEncoder{}, nil
	case FormatMsgpack:
		return MsgpackEncoder{}, nil
	case FormatParquet:
		return ParquetEncoder{Compression: "snappy"}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding format: %q", name)
	}
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
