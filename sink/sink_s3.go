package sink

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Batos41/cloud-computing-hw/encoder"
	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/widget"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3SinkConfig struct {
	Prefix string
	// KeyFunc defaults to OwnerKeyFunc.
	KeyFunc KeyFunc
	// Encoder defaults to encoder.JSONEncoder.
	Encoder encoder.Encoder
	// AppendExtension adds the encoder's file extension to every key.
	AppendExtension bool
}

// S3Sink stores each widget as one object in a bucket.
type S3Sink struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string

	keyFunc KeyFunc
	enc     encoder.Encoder
	ext     string
}

func NewS3Sink(client s3API, bucket string, cfg S3SinkConfig) *S3Sink {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}

	s := &S3Sink{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		keyFunc: cfg.KeyFunc,
		enc:     cfg.Encoder,
	}
	if s.keyFunc == nil {
		s.keyFunc = OwnerKeyFunc
	}
	if s.enc == nil {
		s.enc = encoder.JSONEncoder{}
	}
	if cfg.AppendExtension {
		s.ext = s.enc.FileExtension()
	}
	s.bucketPtr = &s.bucket
	return s
}

// Key returns the full object key for w.
func (s *S3Sink) Key(w widget.Widget) string {
	// Keeps S3 semantics (no path cleaning).
	key := strings.TrimLeft(s.keyFunc(w), "/") + s.ext
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

func (s *S3Sink) Write(ctx context.Context, w widget.Widget) error {
	if w.ID == "" {
		return failure.Malformedf("put object", "", "widget has no id")
	}
	key := s.Key(w)

	data, err := s.enc.Encode(ctx, w)
	if err != nil {
		return failure.New(failure.Malformed, "encode widget", key, err)
	}

	cl := int64(len(data))
	ct := s.enc.ContentType()

	var body bytes.Reader
	body.Reset(data)

	input := s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           &key,
		Body:          &body,
		ContentLength: &cl,
	}
	if ct != "" {
		input.ContentType = &ct
	}

	if _, err := s.client.PutObject(ctx, &input); err != nil {
		return failure.Classify("put object", key, err)
	}
	return nil
}

func (s *S3Sink) Delete(ctx context.Context, w widget.Widget) error {
	key := s.Key(w)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: s.bucketPtr, Key: &key}); err != nil {
		err = failure.Classify("head object", key, err)
		if errors.Is(err, failure.ErrNotFound) {
			return failure.New(failure.NotFound, "delete widget", key, nil)
		}
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: s.bucketPtr, Key: &key}); err != nil {
		return failure.Classify("delete object", key, err)
	}
	return nil
}
