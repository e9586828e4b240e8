package ratelimit

import (
	"context"
	"sort"
	"time"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

// channelWindow is one channel's fixed-window counter. The buffered channel
// acts as a semaphore so acquisition can be bounded by a timeout.
type channelWindow struct {
	sem    chan struct{}
	second int64 // unix second the counter belongs to
	count  int
}

// MemoryLimiter is an in-process Limiter for single-process deployments and
// tests. Channels never contend with each other; a multi-channel batch
// acquires its sections in sorted channel order to stay deadlock-free.
type MemoryLimiter struct {
	max         int
	lockTimeout time.Duration
	windows     map[model.Channel]*channelWindow
	now         func() time.Time
}

// NewMemoryLimiter creates a limiter allowing max admissions per second per channel.
func NewMemoryLimiter(max int, lockTimeout time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		max:         max,
		lockTimeout: lockTimeout,
		windows:     make(map[model.Channel]*channelWindow, len(model.Channels())),
		now:         time.Now,
	}

	for _, ch := range model.Channels() {
		l.windows[ch] = &channelWindow{sem: make(chan struct{}, 1)}
	}

	return l
}

// Admit implements Limiter.
func (l *MemoryLimiter) Admit(ctx context.Context, counts map[model.Channel]int) error {
	channels := sortedChannels(counts)

	acquired := make([]*channelWindow, 0, len(channels))
	release := func() {
		for _, w := range acquired {
			<-w.sem
		}
	}

	deadline := time.NewTimer(l.lockTimeout)
	defer deadline.Stop()

	for _, ch := range channels {
		w := l.windows[ch]

		select {
		case w.sem <- struct{}{}:
			acquired = append(acquired, w)
		case <-deadline.C:
			release()
			return &LimitExceededError{Limit: l.max}
		case <-ctx.Done():
			release()
			return &LimitExceededError{Limit: l.max}
		}
	}
	defer release()

	second := l.now().Unix()

	// Check every window before touching any of them.
	for _, ch := range channels {
		w := l.windows[ch]
		if w.second != second {
			w.second = second
			w.count = 0
		}

		if w.count+counts[ch] > l.max {
			return &LimitExceededError{Limit: l.max}
		}
	}

	for _, ch := range channels {
		l.windows[ch].count += counts[ch]
	}

	return nil
}

// Reset clears all windows. Intended for tests.
func (l *MemoryLimiter) Reset() {
	for _, ch := range model.Channels() {
		w := l.windows[ch]
		w.sem <- struct{}{}
		w.second = 0
		w.count = 0
		<-w.sem
	}
}

func sortedChannels(counts map[model.Channel]int) []model.Channel {
	channels := make([]model.Channel, 0, len(counts))
	for ch := range counts {
		channels = append(channels, ch)
	}

	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	return channels
}
