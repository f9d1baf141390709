package encoder

import (
	"context"
	"encoding/json"

	"github.com/Batos41/cloud-computing-hw/widget"
)

// JSONEncoder writes the flattened widget fields as one JSON object. Map keys
// are emitted in sorted order, which keeps the output stable.
type JSONEncoder struct{}

func (JSONEncoder) FileExtension() string { return ".json" }
func (JSONEncoder) ContentType() string   { return "application/json" }

func (JSONEncoder) Encode(ctx context.Context, w widget.Widget) ([]byte, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	return json.Marshal(w.Fields())
}
