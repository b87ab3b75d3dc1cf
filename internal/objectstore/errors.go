package objectstore

import (
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Class is the {Transient, Permanent, NotFound} taxonomy an adapter
// classifies errors into. A Worker treats only Transient as retryable.
type Class int

const (
	Permanent Class = iota
	Transient
	NotFound
)

// ErrNotFound is returned by HeadObject/HeadBucket when the target is
// absent — distinct from a transport or permission error.
var ErrNotFound = errors.New("objectstore: not found")

// ClassifyErr reports which class err falls into.
func ClassifyErr(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, ErrNotFound) {
		return NotFound
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == http.StatusNotFound {
			return NotFound
		}
		if code == http.StatusTooManyRequests || code >= 500 {
			return Transient
		}
		return Permanent
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "SlowDown", "ThrottlingException", "InternalError", "ServiceUnavailable":
			return Transient
		case "NoSuchKey", "NoSuchUpload", "NoSuchBucket", "404":
			return NotFound
		default:
			return Permanent
		}
	}

	// Context deadline/cancellation and raw network errors surface here
	// without a smithy wrapper (e.g. a dialed-out timeout); treat them as
	// retryable rather than poisoning the file permanently.
	return Transient
}

// classify wraps err with its classification so callers further up the
// stack (the Worker's retry loop) can branch on it without re-deriving the
// class from the raw SDK error a second time.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassifyErr(err), Err: err}
}

// ClassifiedError pairs an error with its taxonomy class.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// ClassOf reports the Class of err, unwrapping a *ClassifiedError if
// present and falling back to ClassifyErr otherwise.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassifyErr(err)
}
