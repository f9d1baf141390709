package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/Batos41/cloud-computing-hw/widget"
)

// Sinkr persists widgets to a destination store.
//
// Write is an upsert keyed by widget ID: repeating it with the same widget
// leaves the destination unchanged, so callers may retry freely. Delete
// removes the widget and reports failure.NotFound when it did not exist.
type Sinkr interface {
	Write(ctx context.Context, w widget.Widget) error
	Delete(ctx context.Context, w widget.Widget) error
}

// KeyFunc maps a widget to its object key, before any sink prefix.
type KeyFunc func(w widget.Widget) string

// Key layouts accepted by KeyFuncFor.
const (
	LayoutOwner = "owner"
	LayoutFlat  = "flat"
)

const (
	ownerRoot = "widgets/"
	flatRoot  = "widget-"
)

// OwnerKeyFunc groups widgets by owner: widgets/<owner-slug>/<id>.
func OwnerKeyFunc(w widget.Widget) string {
	return ownerRoot + OwnerSlug(w.Owner) + "/" + w.ID
}

// FlatKeyFunc keys each widget directly: widget-<id>.
func FlatKeyFunc(w widget.Widget) string {
	return flatRoot + w.ID
}

// LayoutRoot returns the prefix shared by every key of layout.
func LayoutRoot(layout string) string {
	if layout == LayoutFlat {
		return flatRoot
	}
	return ownerRoot
}

// KeyFuncFor returns the KeyFunc registered under layout.
func KeyFuncFor(layout string) (KeyFunc, error) {
	switch layout {
	case "", LayoutOwner:
		return OwnerKeyFunc, nil
	case LayoutFlat:
		return FlatKeyFunc, nil
	default:
		return nil, fmt.Errorf("unsupported key layout: %q", layout)
	}
}

// OwnerSlug lower-cases the owner and joins its words with dashes.
// An empty owner becomes "unknown-owner".
func OwnerSlug(owner string) string {
	words := strings.Fields(strings.ToLower(owner))
	if len(words) == 0 {
		return "unknown-owner"
	}
	return strings.Join(words, "-")
}
