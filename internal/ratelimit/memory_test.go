package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

func TestMemoryLimiter_AdmitUpToLimit(t *testing.T) {
	l := NewMemoryLimiter(2, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))

	err := l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1})

	var limitErr *LimitExceededError
	assert.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 2, limitErr.Limit)
}

func TestMemoryLimiter_ChannelsAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(1, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
	assert.Error(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelEmail: 1}))
	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelPush: 1}))
}

func TestMemoryLimiter_WindowResetsEverySecond(t *testing.T) {
	l := NewMemoryLimiter(1, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
	assert.Error(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))

	now = now.Add(time.Second)

	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
}

func TestMemoryLimiter_BatchIsAllOrNothing(t *testing.T) {
	l := NewMemoryLimiter(2, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	// sms fits, email does not: the whole request must be rejected without
	// consuming any window capacity.
	err := l.Admit(ctx, map[model.Channel]int{
		model.ChannelSMS:   1,
		model.ChannelEmail: 3,
	})
	assert.Error(t, err)

	// sms capacity was untouched by the rejected batch.
	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 2}))
}

func TestMemoryLimiter_BatchCountsAgainstLimit(t *testing.T) {
	l := NewMemoryLimiter(2, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	err := l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 3})

	var limitErr *LimitExceededError
	assert.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 2, limitErr.Limit)
}

func TestMemoryLimiter_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	const limit = 50

	l := NewMemoryLimiter(limit, time.Second)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, limit, admitted)
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l := NewMemoryLimiter(1, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()

	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
	assert.Error(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))

	l.Reset()

	assert.NoError(t, l.Admit(ctx, map[model.Channel]int{model.ChannelSMS: 1}))
}
