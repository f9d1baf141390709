package quarantine

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/source"
)

// Object metadata keys set on quarantined copies.
const (
	MetaReason    = "quarantine-reason"
	MetaKind      = "quarantine-kind"
	MetaTruncated = "quarantine-truncated"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Quarantine copies rejected requests to <bucket>/<prefix>/<request key>.
type S3Quarantine struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string
}

func NewS3Quarantine(client s3API, bucket, prefix string) *S3Quarantine {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}
	q := &S3Quarantine{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	q.bucketPtr = &q.bucket
	return q
}

func (q *S3Quarantine) Key(requestKey string) string {
	key := strings.TrimLeft(requestKey, "/")
	if q.prefix != "" {
		key = q.prefix + "/" + key
	}
	return key
}

func (q *S3Quarantine) Quarantine(ctx context.Context, req source.Request, reason error) error {
	key := q.Key(req.Key)
	text, kind := reasonText(reason)

	var body bytes.Reader
	body.Reset(req.Body)
	cl := int64(len(req.Body))

	meta := map[string]string{
		MetaReason: metadataText(text),
		MetaKind:   kind,
	}
	if req.Truncated {
		meta[MetaTruncated] = "true"
	}

	_, err := q.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        q.bucketPtr,
		Key:           &key,
		Body:          &body,
		ContentLength: &cl,
		Metadata:      meta,
	})
	if err != nil {
		return failure.Classify("quarantine object", key, err)
	}
	return nil
}

// metadataText escapes s to US-ASCII, the only charset S3 user metadata
// accepts, and bounds its length.
func metadataText(s string) string {
	q := strconv.QuoteToASCII(s)
	q = q[1 : len(q)-1]
	if len(q) > maxReasonLen {
		q = q[:maxReasonLen]
	}
	return q
}
