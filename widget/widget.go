// Package widget holds the record produced from a request and persisted to a
// destination store.
package widget

import (
	"time"
)

// Op is what a request asks the consumer to do with a widget.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Reserved field names. Attributes may not reuse them.
const (
	FieldID          = "id"
	FieldOwner       = "owner"
	FieldLabel       = "label"
	FieldDescription = "description"
	FieldCreatedAt   = "createdAt"
)

// IsReserved reports whether name collides with a built-in widget field.
func IsReserved(name string) bool {
	switch name {
	case FieldID, FieldOwner, FieldLabel, FieldDescription, FieldCreatedAt:
		return true
	}
	return false
}

// Attribute is a named scalar value. Value is one of string, int64, float64
// or bool.
type Attribute struct {
	Name  string
	Value any
}

type Widget struct {
	ID          string
	Owner       string
	Label       string
	Description string
	Attributes  []Attribute
	CreatedAt   time.Time
}

// Fields flattens the widget into a single map: built-in fields first (empty
// ones omitted), then every attribute. All encodings and the table item are
// built from it, so equal widgets always produce equal output.
func (w Widget) Fields() map[string]any {
	m := make(map[string]any, len(w.Attributes)+5)
	m[FieldID] = w.ID
	if w.Owner != "" {
		m[FieldOwner] = w.Owner
	}
	if w.Label != "" {
		m[FieldLabel] = w.Label
	}
	if w.Description != "" {
		m[FieldDescription] = w.Description
	}
	if !w.CreatedAt.IsZero() {
		m[FieldCreatedAt] = w.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, a := range w.Attributes {
		m[a.Name] = a.Value
	}
	return m
}
