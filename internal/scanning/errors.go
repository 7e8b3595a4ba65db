package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an extraction failure.
type Kind string

const (
	KindConfiguration     Kind = "configuration_error"
	KindRateLimited       Kind = "rate_limited"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindMalformedResponse Kind = "malformed_response"
	KindProvider          Kind = "provider_error"
	KindUnsupportedImage  Kind = "unsupported_image"
)

var (
	// ErrMissingCredential is wrapped by configuration errors.
	ErrMissingCredential = errors.New("provider credential is not configured")
	// ErrUnsupportedImage is returned when the upload cannot be turned into a PNG.
	ErrUnsupportedImage = errors.New("unsupported image")
	// ErrUsageDenied is wrapped when the usage gate refuses a scan.
	ErrUsageDenied = errors.New("scan quota exhausted")
)

// ExtractionError is the single error type returned from the extraction
// path. Status and Body carry the provider's reply when there was one.
type ExtractionError struct {
	Kind     Kind
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an extraction error, or "" for anything else.
func KindOf(err error) Kind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsKind reports whether err is an extraction error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// statusError maps a non-2xx provider reply onto the taxonomy.
func statusError(provider string, status int, body []byte) *ExtractionError {
	kind := KindProvider
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusPaymentRequired:
		kind = KindQuotaExceeded
	}
	return &ExtractionError{
		Kind:     kind,
		Provider: provider,
		Status:   status,
		Body:     string(body),
		Err:      fmt.Errorf("non-2xx status: %d", status),
	}
}

func malformedError(provider string, body []byte, err error) *ExtractionError {
	return &ExtractionError{
		Kind:     KindMalformedResponse,
		Provider: provider,
		Body:     string(body),
		Err:      err,
	}
}

func imageError(provider string, err error) *ExtractionError {
	return &ExtractionError{
		Kind:     KindUnsupportedImage,
		Provider: provider,
		Status:   http.StatusUnsupportedMediaType,
		Err:      err,
	}
}

func configurationError(provider string) *ExtractionError {
	return &ExtractionError{
		Kind:     KindConfiguration,
		Provider: provider,
		Err:      ErrMissingCredential,
	}
}

// transportError wraps failures that produced no reply at all, timeouts
// included.
func transportError(provider string, err error) *ExtractionError {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("provider timed out: %w", err)
	}
	return &ExtractionError{
		Kind:     KindProvider,
		Provider: provider,
		Err:      err,
	}
}
