// Package failure classifies per-item errors into the small taxonomy the
// consumer loop acts on.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Kind is the class of a failure. The consumer decides skip, retry, consume
// or abort based on it alone.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	Malformed
	Transient
	Permission
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Malformed:
		return "malformed_request"
	case Transient:
		return "transient"
	case Permission:
		return "permission_denied"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound   = errors.New("not found")
	ErrMalformed  = errors.New("malformed request")
	ErrTransient  = errors.New("transient store error")
	ErrPermission = errors.New("permission denied")
)

func (k Kind) sentinel() error {
	switch k {
	case NotFound:
		return ErrNotFound
	case Malformed:
		return ErrMalformed
	case Transient:
		return ErrTransient
	case Permission:
		return ErrPermission
	default:
		return nil
	}
}

// Error carries the kind together with the failing operation and object key.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s key=%q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNotFound) and friends work on classified errors.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New wraps err with an explicit kind.
func New(kind Kind, op, key string, err error) error {
	if err == nil {
		err = kind.sentinel()
	}
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// Malformedf builds a Malformed error from a format string.
func Malformedf(op, key, format string, args ...any) error {
	return &Error{Kind: Malformed, Op: op, Key: key, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Unclassified errors are Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrMalformed):
		return Malformed
	case errors.Is(err, ErrTransient):
		return Transient
	case errors.Is(err, ErrPermission):
		return Permission
	}
	return Unknown
}

var notFoundCodes = map[string]struct{}{
	"NoSuchKey":     {},
	"NotFound":      {},
	"NoSuchVersion": {},
}

// Missing buckets, tables and queues are configuration problems, not races.
// So is ValidationException: DynamoDB returns it when the item does not fit
// the table's key schema, which no request can fix.
var permissionCodes = map[string]struct{}{
	"AccessDenied":                            {},
	"AccessDeniedException":                   {},
	"AllAccessDisabled":                       {},
	"Forbidden":                               {},
	"InvalidAccessKeyId":                      {},
	"InvalidClientTokenId":                    {},
	"SignatureDoesNotMatch":                   {},
	"UnrecognizedClientException":             {},
	"ExpiredToken":                            {},
	"ExpiredTokenException":                   {},
	"NoSuchBucket":                            {},
	"ResourceNotFoundException":               {},
	"QueueDoesNotExist":                       {},
	"AWS.SimpleQueueService.NonExistentQueue": {},
	"ValidationException":                     {},
}

// Classify maps an AWS SDK error onto a Kind and wraps it. Errors that are
// already classified pass through untouched. Anything not recognised is
// treated as transient so it gets retried and then left for a later pass.
func Classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kindFromAWS(err), Op: op, Key: key, Err: err}
}

func kindFromAWS(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		if _, ok := notFoundCodes[code]; ok {
			return NotFound
		}
		if _, ok := permissionCodes[code]; ok {
			return Permission
		}
	}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		switch status := re.HTTPStatusCode(); {
		case status == http.StatusNotFound:
			return NotFound
		case status == http.StatusForbidden || status == http.StatusUnauthorized:
			return Permission
		}
	}
	return Transient
}
