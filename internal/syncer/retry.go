package syncer

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sethshoultes/flock-control/internal/config"
)

// RetryPolicy decides how long a failed upload waits and when it is given
// up on.
type RetryPolicy struct {
	// MaxAttempts is the number of failed attempts after which an item is
	// marked dead. Zero or less retries forever.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     8,
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Minute,
		Multiplier:      2,
	}
}

// RetryPolicyFromConfig fills unset fields from DefaultRetryPolicy.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts != 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	return p
}

// Delay is the wait before the next attempt once attempt attempts have
// failed. The first failure waits InitialInterval.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
		if d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	return d
}

// Exhausted reports whether an item that has failed retryCount times should
// stop being retried automatically.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return p.MaxAttempts > 0 && retryCount >= p.MaxAttempts
}
