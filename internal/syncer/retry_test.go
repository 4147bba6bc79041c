package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sethshoultes/flock-control/internal/config"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialInterval: 5 * time.Second, MaxInterval: 30 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))

	unlimited := RetryPolicy{}
	assert.False(t, unlimited.Exhausted(1000))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.RetryConfig{MaxAttempts: 3, InitialInterval: time.Second})
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, DefaultRetryPolicy().MaxInterval, p.MaxInterval)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestSummaryMessage(t *testing.T) {
	assert.Equal(t, "nothing to sync", Summary{}.Message())
	assert.Equal(t, "2 succeeded, 1 failed", Summary{Attempted: 3, Succeeded: 2, Failed: 1}.Message())
	assert.Equal(t, "0 succeeded, 1 failed; sign in again to continue",
		Summary{Attempted: 1, Failed: 1, AuthRequired: true}.Message())
}
