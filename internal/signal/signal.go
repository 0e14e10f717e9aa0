// Package signal standardizes payloads shared between the price feed and the quoting loop.
package signal

import "time"

// Tick is the latest reference price for a symbol. Only the newest value matters.
type Tick struct {
	Symbol     string
	Mid        float64
	ReceivedAt time.Time
}

// IsZero reports whether no price has been received yet.
func (t Tick) IsZero() bool { return t.Mid == 0 }

// Age is how stale the tick is relative to now.
func (t Tick) Age(now time.Time) time.Duration {
	if t.ReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(t.ReceivedAt)
}
