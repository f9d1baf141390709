package encoder

import (
	"bytes"
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Batos41/cloud-computing-hw/widget"
)

// MsgpackEncoder writes the flattened widget fields as a MessagePack map with
// sorted keys and compact integers.
type MsgpackEncoder struct{}

func (MsgpackEncoder) FileExtension() string { return ".msgpack" }
func (MsgpackEncoder) ContentType() string   { return "application/x-msgpack" }

func (MsgpackEncoder) Encode(ctx context.Context, w widget.Widget) ([]byte, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(w.Fields()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
