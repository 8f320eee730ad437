// Package retry provides exponential backoff with jitter and transport
// error classification for the delivery pipeline.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// Policy controls the backoff schedule. The zero value is not usable;
// start from DefaultPolicy.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter randomizes each delay uniformly within
	// [delay*0.5, delay*1.5) to avoid thundering herds.
	Jitter bool
}

// DefaultPolicy matches the sending pipeline's contract: up to 3 retries,
// 1s base, doubling, capped at 60s, with 50-150% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay computes the backoff before retry attempt n (n starts at 0 for the
// first retry).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d = d * (0.5 + rand.Float64())
	}
	return time.Duration(d)
}

// Permanent wraps an error to mark it as non-retryable regardless of
// classification.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// AWS/SES error codes that indicate a transient condition worth retrying.
var retryableCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"ServiceUnavailable":                     true,
	"RequestTimeout":                         true,
	"InternalServerError":                    true,
	"InternalError":                          true,
	"ProvisionedThroughputExceededException": true,
	"TooManyRequestsException":               true,
}

// Error codes that indicate the request can never succeed as written.
var permanentCodes = map[string]bool{
	"InvalidParameterValue":     true,
	"ValidationError":           true,
	"AccessDenied":              true,
	"AccessDeniedException":     true,
	"UnauthorizedOperation":     true,
	"InvalidClientTokenId":      true,
	"MessageRejected":           true,
	"MailFromDomainNotVerified": true,
	"BadRequestException":       true,
	"NotFoundException":         true,
}

// Retryable classifies an error. Known permanent codes (validation, auth,
// rejected message) are not retried; known transient codes, HTTP 429/5xx
// and anything unrecognized are - dropping a transient failure silently is
// worse than one wasted retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var perm *Permanent
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if permanentCodes[code] {
			return false
		}
		if retryableCodes[code] {
			return true
		}
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	// Heuristic for wrapped errors that lost their type.
	msg := err.Error()
	for code := range permanentCodes {
		if strings.Contains(msg, code) {
			return false
		}
	}

	return true
}

// HTTPStatusError reports a non-2xx response from an HTTP transport.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "http status " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// Do runs fn with the policy's backoff until it succeeds, exhausts its
// retries, or fails permanently. The context bounds the whole loop
// including sleeps. The returned attempt count includes the first call.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; ; attempt++ {
		attempts++
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !Retryable(err) || attempt >= p.MaxRetries {
			return attempts, err
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
}
