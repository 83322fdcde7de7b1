package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"999.5", "$999.50"},
		{"1000", "$1,000.00"},
		{"12345.678", "$12,345.68"},
		{"1234567", "$1,234,567.00"},
		{"-8500", "-$8,500.00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMoney(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestFormatPnLAndPercent(t *testing.T) {
	assert.Equal(t, "+$100.00", FormatPnL(decimal.NewFromInt(100)))
	assert.Equal(t, "-$50.00", FormatPnL(decimal.NewFromInt(-50)))
	assert.Equal(t, "+1.00%", FormatPercent(decimal.NewFromInt(100), decimal.NewFromInt(10000)))
	assert.Equal(t, "0.00%", FormatPercent(decimal.NewFromInt(1), decimal.Zero))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hel...", Truncate("hello world", 6))
}

func TestNewID_Monotonic(t *testing.T) {
	now := time.Now()
	prev := NewID(now)
	for i := 0; i < 1000; i++ {
		next := NewID(now)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}
