package source

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Batos41/cloud-computing-hw/failure"
)

type S3SourceConfig struct {
	// Prefix restricts the listing to keys below it.
	Prefix string
	// PageSize is the MaxKeys value sent with each ListObjectsV2 call.
	PageSize int32
	// MaxBodyBytes caps request bodies; larger ones are rejected as malformed.
	MaxBodyBytes int64
}

func (c *S3SourceConfig) validate() {
	if c.PageSize < 1 || c.PageSize > 1000 {
		panic("page size must be between 1 and 1000")
	}
	if c.MaxBodyBytes < 1 {
		panic("max body bytes must be at least 1")
	}
}

var DefaultS3SourceConfig = S3SourceConfig{
	PageSize:     1000,
	MaxBodyBytes: 1 << 20,
}

type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Source reads request objects from a bucket.
type S3Source struct {
	cfg S3SourceConfig

	client    s3API
	bucket    string
	bucketPtr *string
}

func NewS3Source(client s3API, bucket string) *S3Source {
	return NewS3SourceWithConfig(client, bucket, DefaultS3SourceConfig)
}

func NewS3SourceWithConfig(client s3API, bucket string, cfg S3SourceConfig) *S3Source {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}
	cfg.validate()

	s := &S3Source{
		cfg:    cfg,
		client: client,
		bucket: bucket,
	}
	s.bucketPtr = &s.bucket
	return s
}

func (s *S3Source) List(ctx context.Context) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		in := &s3.ListObjectsV2Input{
			Bucket:  s.bucketPtr,
			MaxKeys: aws.Int32(s.cfg.PageSize),
		}
		if s.cfg.Prefix != "" {
			in.Prefix = aws.String(s.cfg.Prefix)
		}

		p := s3.NewListObjectsV2Paginator(s.client, in)
		for p.HasMorePages() {
			out, err := p.NextPage(ctx)
			if err != nil {
				yield(Handle{}, failure.Classify("list objects", s.bucket, err))
				return
			}
			for _, obj := range out.Contents {
				key := aws.ToString(obj.Key)
				// Folder placeholders are not requests.
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				h := Handle{
					Key:          key,
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
					ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				}
				if !yield(h, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Source) Fetch(ctx context.Context, h Handle) (Request, error) {
	key := h.Key
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucketPtr,
		Key:    &key,
	})
	if err != nil {
		return Request{}, failure.Classify("get object", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return Request{}, failure.New(failure.Transient, "read object", key, err)
	}

	req := Request{
		Key:          key,
		Body:         body,
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if req.LastModified.IsZero() {
		req.LastModified = h.LastModified
	}
	if req.ETag == "" {
		req.ETag = h.ETag
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		req.Body = body[:s.cfg.MaxBodyBytes]
		req.Truncated = true
		return req, failure.Malformedf("read object", key, "body exceeds %d bytes", s.cfg.MaxBodyBytes)
	}
	return req, nil
}

func (s *S3Source) Delete(ctx context.Context, h Handle) error {
	key := h.Key
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucketPtr,
		Key:    &key,
	})
	if err == nil {
		return nil
	}
	err = failure.Classify("delete object", key, err)
	if errors.Is(err, failure.ErrNotFound) {
		return nil
	}
	return err
}
