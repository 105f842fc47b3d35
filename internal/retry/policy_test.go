package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommind/engine/internal/retry"
)

func TestDelay(t *testing.T) {
	policy := retry.Policy{
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}

	t.Run("grows exponentially", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, policy.Delay(0))
		assert.Equal(t, 2*time.Second, policy.Delay(1))
		assert.Equal(t, 4*time.Second, policy.Delay(2))
		assert.Equal(t, 8*time.Second, policy.Delay(3))
	})

	t.Run("caps at the max delay", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, policy.Delay(5))
		assert.Equal(t, 30*time.Second, policy.Delay(20))
	})
}

func TestDo(t *testing.T) {
	// Tiny delays keep the retry loop fast in tests
	policy := retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}

	t.Run("returns nil on first success", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient errors until success", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops after max retries", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			return errors.New("always failing")
		})
		require.Error(t, err)
		// First attempt plus MaxRetries retries
		assert.Equal(t, 4, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			return retry.Permanent(errors.New("bad request"))
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := policy.Do(ctx, func() error {
			return errors.New("transient")
		})
		require.Error(t, err)
	})
}
