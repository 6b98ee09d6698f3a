package identity

import "time"

// LockoutPolicy locks an account for Duration once LoginFailedCount reaches
// Threshold. Success resets the counter and clears the lock.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy is five failures, ten minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Duration: 10 * time.Minute}
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	def := DefaultLockoutPolicy()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.Duration <= 0 {
		p.Duration = def.Duration
	}
	return p
}
