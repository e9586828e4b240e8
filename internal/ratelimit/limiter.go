// Package ratelimit implements per-channel admission control with a fixed
// one-second window. Admission is check-then-increment under a short-lived
// per-channel critical section; failure to acquire the section within the
// configured bound counts as a rejection, never as an admission.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

// LimitExceededError reports a rejected admission request, carrying the
// configured per-second-per-channel ceiling so callers can surface it.
type LimitExceededError struct {
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: maximum %d messages per second per channel", e.Limit)
}

// Limiter admits or rejects a set of per-channel counts as a whole.
//
// Admission is all-or-nothing: either every channel in counts has window
// capacity for its requested count and all windows are incremented, or no
// window is touched and a LimitExceededError is returned.
type Limiter interface {
	Admit(ctx context.Context, counts map[model.Channel]int) error
}
