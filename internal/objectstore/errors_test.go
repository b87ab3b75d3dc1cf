package objectstore

import (
	"errors"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string                 { return "api error: " + e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestClassifyErrNotFoundSentinel(t *testing.T) {
	assert.Equal(t, NotFound, ClassifyErr(ErrNotFound))
	assert.Equal(t, NotFound, ClassOf(&ClassifiedError{Class: NotFound, Err: ErrNotFound}))
}

func TestClassifyErrResponseErrorStatusCodes(t *testing.T) {
	tooMany := &smithyhttp.ResponseError{Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}}
	assert.Equal(t, Transient, ClassifyErr(tooMany))

	notFound := &smithyhttp.ResponseError{Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}}}
	assert.Equal(t, NotFound, ClassifyErr(notFound))

	badRequest := &smithyhttp.ResponseError{Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusBadRequest}}}
	assert.Equal(t, Permanent, ClassifyErr(badRequest))
}

func TestClassifyErrAPIErrorCodes(t *testing.T) {
	assert.Equal(t, Transient, ClassifyErr(&fakeAPIError{code: "SlowDown"}))
	assert.Equal(t, NotFound, ClassifyErr(&fakeAPIError{code: "NoSuchKey"}))
	assert.Equal(t, Permanent, ClassifyErr(&fakeAPIError{code: "AccessDenied"}))
}

func TestClassOfUnwrapsClassifiedError(t *testing.T) {
	wrapped := classify(&fakeAPIError{code: "SlowDown"})
	assert.Equal(t, Transient, ClassOf(wrapped))
}

func TestClassOfFallsBackWhenNotWrapped(t *testing.T) {
	assert.Equal(t, Transient, ClassOf(&fakeAPIError{code: "SlowDown"}))
}

func TestClassifyNilIsPermanent(t *testing.T) {
	assert.Equal(t, Permanent, ClassifyErr(nil))
	assert.Nil(t, classify(nil))
}

func TestClassifyDefaultsTransientForUnwrappedErrors(t *testing.T) {
	assert.Equal(t, Transient, ClassifyErr(errors.New("connection reset by peer")))
}
