package session

import "sync/atomic"

// Limiter caps the number of frames processed over one session's lifetime.
// A max of zero or below means unrestricted, the production default.
//
// The cap is deliberately not a sliding time window; the session lifetime
// cap is the policy this layer guarantees.
type Limiter struct {
	max   int64
	count atomic.Int64
}

func NewLimiter(max int64) *Limiter {
	return &Limiter{max: max}
}

// Allow counts one frame and reports whether it is within the cap.
func (l *Limiter) Allow() bool {
	n := l.count.Add(1)
	if l.max <= 0 {
		return true
	}
	return n <= l.max
}

// Count returns the frames counted so far.
func (l *Limiter) Count() int64 {
	return l.count.Load()
}
