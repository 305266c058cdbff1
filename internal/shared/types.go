package shared

import (
	"time"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

type BackoffConfig struct {
	Initial  time.Duration
	MaxDelay time.Duration
}

// Delay returns the wait before the given retry, doubling from Initial and
// capped at MaxDelay. attempt starts at 1.
func (b BackoffConfig) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}
