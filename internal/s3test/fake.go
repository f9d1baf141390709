// Package s3test provides an in-memory stand-in for the subset of the S3 API
// used by the source, sink and quarantine packages.
package s3test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Operation names used for fault injection and call counting.
const (
	OpList   = "ListObjectsV2"
	OpGet    = "GetObject"
	OpHead   = "HeadObject"
	OpPut    = "PutObject"
	OpDelete = "DeleteObject"
)

type Object struct {
	Body         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
	ETag         string
}

type fault struct {
	err   error
	times int
}

// Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	buckets map[string]map[string]Object
	faults  map[string][]fault
	calls   map[string]int
	journal []string

	// Now stamps LastModified on PutObject. Defaults to time.Now.
	Now func() time.Time
}

func New() *Fake {
	return &Fake{
		buckets: make(map[string]map[string]Object),
		faults:  make(map[string][]fault),
		calls:   make(map[string]int),
		Now:     time.Now,
	}
}

// Seed stores an object directly, bypassing faults and counters.
func (f *Fake) Seed(bucket, key, body string, lastModified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(bucket, key, Object{Body: []byte(body), LastModified: lastModified})
}

// Fail makes the next times calls of op return err.
func (f *Fake) Fail(op string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = append(f.faults[op], fault{err: err, times: times})
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Journal returns "Op bucket/key" entries for every successful mutating call
// and every successful GetObject, in call order.
func (f *Fake) Journal() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.journal...)
}

func (f *Fake) Object(bucket, key string) (Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.buckets[bucket][key]
	return o, ok
}

// Keys returns the sorted keys currently stored in bucket.
func (f *Fake) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedKeys(bucket, "")
}

func (f *Fake) store(bucket, key string, o Object) {
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = make(map[string]Object)
	}
	sum := md5.Sum(o.Body)
	o.ETag = `"` + hex.EncodeToString(sum[:]) + `"`
	f.buckets[bucket][key] = o
}

func (f *Fake) sortedKeys(bucket, prefix string) []string {
	keys := make([]string, 0, len(f.buckets[bucket]))
	for k := range f.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// enter counts the call and pops an injected fault. Caller holds f.mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	q := f.faults[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0].err
	q[0].times--
	if q[0].times <= 0 {
		f.faults[op] = q[1:]
	}
	return err
}

func (f *Fake) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpList); err != nil {
		return nil, err
	}

	keys := f.sortedKeys(aws.ToString(in.Bucket), aws.ToString(in.Prefix))
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		i := sort.SearchStrings(keys, tok)
		for i < len(keys) && keys[i] <= tok {
			i++
		}
		keys = keys[i:]
	}

	max := int(aws.ToInt32(in.MaxKeys))
	if max <= 0 {
		max = 1000
	}
	truncated := len(keys) > max
	if truncated {
		keys = keys[:max]
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, k := range keys {
		o := f.buckets[aws.ToString(in.Bucket)][k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.Body))),
			LastModified: aws.Time(o.LastModified),
			ETag:         aws.String(o.ETag),
		})
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func (f *Fake) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGet); err != nil {
		return nil, err
	}
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	o, ok := f.buckets[bucket][key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	f.journal = append(f.journal, fmt.Sprintf("%s %s/%s", OpGet, bucket, key))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.Body)),
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
		ETag:          aws.String(o.ETag),
		LastModified:  aws.Time(o.LastModified),
		Metadata:      o.Metadata,
	}, nil
}

func (f *Fake) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpHead); err != nil {
		return nil, err
	}
	o, ok := f.buckets[aws.ToString(in.Bucket)][aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.Body))),
		ETag:          aws.String(o.ETag),
		LastModified:  aws.Time(o.LastModified),
	}, nil
}

func (f *Fake) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpPut); err != nil {
		return nil, err
	}
	var body []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	f.store(bucket, key, Object{
		Body:         body,
		ContentType:  aws.ToString(in.ContentType),
		Metadata:     in.Metadata,
		LastModified: f.Now(),
	})
	f.journal = append(f.journal, fmt.Sprintf("%s %s/%s", OpPut, bucket, key))
	return &s3.PutObjectOutput{ETag: aws.String(f.buckets[bucket][key].ETag)}, nil
}

// DeleteObject succeeds for missing keys, as S3 does.
func (f *Fake) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpDelete); err != nil {
		return nil, err
	}
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	delete(f.buckets[bucket], key)
	f.journal = append(f.journal, fmt.Sprintf("%s %s/%s", OpDelete, bucket, key))
	return &s3.DeleteObjectOutput{}, nil
}
