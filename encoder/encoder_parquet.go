package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/Batos41/cloud-computing-hw/widget"
)

// parquetRow is the single-row layout of a widget parquet object. Attributes
// are kept as a JSON object since their names vary per widget.
type parquetRow struct {
	ID          string `parquet:"id"`
	Owner       string `parquet:"owner"`
	Label       string `parquet:"label"`
	Description string `parquet:"description"`
	Attributes  string `parquet:"attributes"`
	CreatedAtMS int64  `parquet:"created_at_ms"`
}

type ParquetEncoder struct {
	// Compression (optional): "", "snappy", "gzip", "zstd"
	Compression string
}

func (e ParquetEncoder) FileExtension() string { return ".parquet" }
func (e ParquetEncoder) ContentType() string   { return "application/vnd.apache.parquet" }

func (e ParquetEncoder) Encode(ctx context.Context, w widget.Widget) ([]byte, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	options := make([]parquet.WriterOption, 0, 1)

	switch e.Compression {
	case "":
		// no compression
	case "snappy":
		options = append(options, parquet.Compression(&parquet.Snappy))
	case "gzip":
		options = append(options, parquet.Compression(&parquet.Gzip))
	case "zstd":
		options = append(options, parquet.Compression(&parquet.Zstd))
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", e.Compression)
	}

	attrs := make(map[string]any, len(w.Attributes))
	for _, a := range w.Attributes {
		attrs[a.Name] = a.Value
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	row := parquetRow{
		ID:          w.ID,
		Owner:       w.Owner,
		Label:       w.Label,
		Description: w.Description,
		Attributes:  string(attrJSON),
	}
	if !w.CreatedAt.IsZero() {
		row.CreatedAtMS = w.CreatedAt.UnixMilli()
	}

	output := &bytes.Buffer{}
	pw := parquet.NewGenericWriter[parquetRow](output, options...)

	if _, err := pw.Write([]parquetRow{row}); err != nil {
		_ = pw.Close()
		return nil, err
	}

	if err := pw.Close(); err != nil {
		return nil, err
	}

	return output.Bytes(), nil
}
