package insights_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommind/engine/internal/insights"
)

func TestSuggestPrice(t *testing.T) {
	t.Run("converges for a moderate load", func(t *testing.T) {
		// cost 50, 20% combined load -> price = 50 / (1 - 0.2) = 62.50
		quote, err := insights.SuggestPrice(
			decimal.NewFromInt(50),
			decimal.NewFromInt(10),
			decimal.NewFromInt(5),
			decimal.NewFromInt(5),
		)
		require.NoError(t, err)
		assert.True(t, quote.Converged)
		assert.True(t, quote.Price.Equal(decimal.NewFromFloat(62.5)), "got %s", quote.Price)
	})

	t.Run("caps iterations for a slowly converging load", func(t *testing.T) {
		// 40% combined load still shrinks the residual every step but not
		// below tolerance within the iteration budget
		quote, err := insights.SuggestPrice(
			decimal.NewFromInt(100),
			decimal.NewFromInt(12),
			decimal.NewFromInt(8),
			decimal.NewFromInt(20),
		)
		require.NoError(t, err)
		assert.False(t, quote.Converged)
		assert.Equal(t, 10, quote.Iterations)
		// Approaches 100 / 0.6 = 166.67 from below
		assert.True(t, quote.Price.GreaterThan(decimal.NewFromInt(166)), "got %s", quote.Price)
		assert.True(t, quote.Price.LessThan(decimal.NewFromFloat(166.67)), "got %s", quote.Price)
	})

	t.Run("zero load returns the cost", func(t *testing.T) {
		quote, err := insights.SuggestPrice(
			decimal.NewFromInt(80),
			decimal.Zero,
			decimal.Zero,
			decimal.Zero,
		)
		require.NoError(t, err)
		assert.True(t, quote.Converged)
		assert.True(t, quote.Price.Equal(decimal.NewFromInt(80)), "got %s", quote.Price)
	})

	t.Run("rejects loads at or above 100 percent", func(t *testing.T) {
		_, err := insights.SuggestPrice(
			decimal.NewFromInt(100),
			decimal.NewFromInt(60),
			decimal.NewFromInt(30),
			decimal.NewFromInt(15),
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no room for cost")
	})

	t.Run("rejects a negative cost", func(t *testing.T) {
		_, err := insights.SuggestPrice(
			decimal.NewFromInt(-1),
			decimal.NewFromInt(10),
			decimal.Zero,
			decimal.Zero,
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-negative")
	})

	t.Run("rejects a negative combined load", func(t *testing.T) {
		_, err := insights.SuggestPrice(
			decimal.NewFromInt(100),
			decimal.NewFromInt(-20),
			decimal.Zero,
			decimal.Zero,
		)
		require.Error(t, err)
	})

	t.Run("zero cost converges to zero", func(t *testing.T) {
		quote, err := insights.SuggestPrice(
			decimal.Zero,
			decimal.NewFromInt(10),
			decimal.NewFromInt(5),
			decimal.NewFromInt(10),
		)
		require.NoError(t, err)
		assert.True(t, quote.Converged)
		assert.True(t, quote.Price.IsZero(), "got %s", quote.Price)
	})
}
