package transformer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/source"
	"github.com/Batos41/cloud-computing-hw/widget"
)

// Request payload keys with a fixed meaning. Everything else is an attribute.
const (
	keyType            = "type"
	keyRequestID       = "requestId"
	keyWidgetID        = "widgetId"
	keyOwner           = "owner"
	keyLabel           = "label"
	keyDescription     = "description"
	keyOtherAttributes = "otherAttributes"
)

// idNamespace seeds name-based widget IDs for requests without a widgetId.
var idNamespace = uuid.MustParse("9b0f4d5e-6a52-4c1b-8f3e-2d7a1c9e0b44")

// Result is a parsed request: what to do and with which widget.
type Result struct {
	Op        widget.Op
	RequestID string
	Widget    widget.Widget
}

// WidgetTransformer parses JSON request bodies into widgets.
type WidgetTransformer struct{}

var _ Transformer[Result] = WidgetTransformer{}

func (WidgetTransformer) Transform(_ context.Context, in source.Request) (Result, error) {
	fields, err := decodeObject(in.Body)
	if err != nil {
		return Result{}, failure.Malformedf("transform", in.Key, "%v", err)
	}

	p := parser{key: in.Key, fields: fields}
	res := Result{
		Op:        widget.Op(p.str(keyType)),
		RequestID: p.str(keyRequestID),
	}
	w := widget.Widget{
		ID:          p.str(keyWidgetID),
		Owner:       p.str(keyOwner),
		Label:       p.str(keyLabel),
		Description: p.str(keyDescription),
		CreatedAt:   in.LastModified.UTC(),
	}
	if p.err != nil {
		return Result{}, p.err
	}

	switch res.Op {
	case "":
		res.Op = widget.OpCreate
	case widget.OpCreate, widget.OpUpdate, widget.OpDelete:
	default:
		return Result{}, failure.Malformedf("transform", in.Key, "unknown request type %q", res.Op)
	}

	if w.ID == "" {
		if res.Op == widget.OpDelete {
			return Result{}, failure.Malformedf("transform", in.Key, "delete request without %s", keyWidgetID)
		}
		w.ID = uuid.NewSHA1(idNamespace, []byte(in.Key+"\x00"+in.ETag)).String()
	}

	attrs, err := p.attributes()
	if err != nil {
		return Result{}, err
	}
	w.Attributes = attrs
	res.Widget = w
	return res, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("payload is null")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	return fields, nil
}

type parser struct {
	key    string
	fields map[string]any
	err    error
}

// str reads an optional string field, recording the first type error.
func (p *parser) str(name string) string {
	v, ok := p.fields[name]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok && p.err == nil {
		p.err = failure.Malformedf("transform", p.key, "field %q must be a string", name)
	}
	return s
}

func isKnown(name string) bool {
	switch name {
	case keyType, keyRequestID, keyWidgetID, keyOwner, keyLabel, keyDescription, keyOtherAttributes:
		return true
	}
	return false
}

// attributes collects top-level extra keys (sorted by name) followed by the
// otherAttributes list in request order.
func (p *parser) attributes() ([]widget.Attribute, error) {
	extra := make([]string, 0, len(p.fields))
	for name := range p.fields {
		if !isKnown(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	seen := make(map[string]struct{}, len(extra))
	out := make([]widget.Attribute, 0, len(extra))
	add := func(name string, raw any) error {
		if name == "" {
			return failure.Malformedf("transform", p.key, "empty attribute name")
		}
		if widget.IsReserved(name) {
			return failure.Malformedf("transform", p.key, "attribute %q collides with a widget field", name)
		}
		if _, dup := seen[name]; dup {
			return failure.Malformedf("transform", p.key, "duplicate attribute %q", name)
		}
		v, err := scalar(raw)
		if err != nil {
			return failure.Malformedf("transform", p.key, "attribute %q: %v", name, err)
		}
		seen[name] = struct{}{}
		out = append(out, widget.Attribute{Name: name, Value: v})
		return nil
	}

	for _, name := range extra {
		if err := add(name, p.fields[name]); err != nil {
			return nil, err
		}
	}

	raw, ok := p.fields[keyOtherAttributes]
	if !ok || raw == nil {
		return out, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, failure.Malformedf("transform", p.key, "field %q must be a list", keyOtherAttributes)
	}
	for i, item := range list {
		pair, ok := item.(map[string]any)
		if !ok {
			return nil, failure.Malformedf("transform", p.key, "%s[%d] must be an object", keyOtherAttributes, i)
		}
		name, ok := pair["name"].(string)
		if !ok {
			return nil, failure.Malformedf("transform", p.key, "%s[%d].name must be a string", keyOtherAttributes, i)
		}
		if err := add(name, pair["value"]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scalar(v any) (any, error) {
	switch x := v.(type) {
	case string, bool:
		return x, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case nil:
		return nil, errors.New("value is null")
	default:
		return nil, errors.New("value must be a string, number or boolean")
	}
}
