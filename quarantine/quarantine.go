// Package quarantine moves requests the consumer gave up on to a dead-letter
// location before they are deleted from the request bucket.
package quarantine

import (
	"context"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/source"
)

// Quarantiner stores a copy of a request together with the reason it was
// rejected. Implementations must be safe for concurrent use.
type Quarantiner interface {
	Quarantine(ctx context.Context, req source.Request, reason error) error
}

// maxReasonLen keeps reasons well inside S3 metadata and SQS attribute limits.
const maxReasonLen = 1024

func reasonText(reason error) (text, kind string) {
	if reason == nil {
		return "", failure.Unknown.String()
	}
	text = reason.Error()
	if len(text) > maxReasonLen {
		text = text[:maxReasonLen]
	}
	return text, failure.KindOf(reason).String()
}
