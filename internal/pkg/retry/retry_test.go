package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsRetries(t *testing.T) {
	boom := errors.New("transient")
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	// 1 initial call + MaxRetries retries.
	assert.Equal(t, 4, attempts)
}

func TestDoRecoversMidway(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanent(t *testing.T) {
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		return &Permanent{Err: errors.New("bad address")}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPolicy()
	p.BaseDelay = time.Minute
	_, err := Do(ctx, p, func(ctx context.Context) error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

type apiError struct{ code string }

func (e *apiError) Error() string              { return e.code }
func (e *apiError) ErrorCode() string          { return e.code }
func (e *apiError) ErrorMessage() string       { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttling", &apiError{code: "Throttling"}, true},
		{"service unavailable", &apiError{code: "ServiceUnavailable"}, true},
		{"message rejected", &apiError{code: "MessageRejected"}, false},
		{"mail from not verified", &apiError{code: "MailFromDomainNotVerified"}, false},
		{"access denied", &apiError{code: "AccessDenied"}, false},
		{"unknown code", &apiError{code: "SomethingNew"}, true},
		{"http 429", &HTTPStatusError{StatusCode: 429}, true},
		{"http 500", &HTTPStatusError{StatusCode: 500}, true},
		{"http 400", &HTTPStatusError{StatusCode: 400}, false},
		{"plain error", errors.New("connection reset"), true},
		{"wrapped permanent code", fmt.Errorf("send: %s", "ValidationError in field"), false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"permanent wrapper", &Permanent{Err: errors.New("x")}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestDelayBackoffAndCap(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 60 * time.Second, Multiplier: 2}

	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 60*time.Second, p.Delay(10))
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}
