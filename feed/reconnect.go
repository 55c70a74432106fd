package feed

import "time"

// ReconnectPolicy decides how long to wait before reconnect attempt n
// (0 for the first attempt after a drop). The count resets once a connection
// is established.
type ReconnectPolicy interface {
	Next(attempt int) time.Duration
}

const DefaultReconnectDelay = 5 * time.Second

// FixedDelay waits the same time before every attempt and never gives up.
type FixedDelay struct {
	Delay time.Duration
}

func (f FixedDelay) Next(int) time.Duration {
	if f.Delay <= 0 {
		return DefaultReconnectDelay
	}
	return f.Delay
}

// ExponentialBackoff doubles the wait from Base per attempt, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (e ExponentialBackoff) Next(attempt int) time.Duration {
	base, limit := e.Base, e.Max
	if base <= 0 {
		base = time.Second
	}
	if limit <= 0 {
		limit = time.Minute
	}
	if attempt < 0 {
		return base
	}
	// 2^30 seconds is far beyond any sane cap
	if attempt > 30 {
		return limit
	}
	d := base * time.Duration(1<<attempt)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

// ParsePolicy builds a policy by name: "fixed" or "exponential".
func ParsePolicy(name string, delay, maxDelay time.Duration) (ReconnectPolicy, bool) {
	switch name {
	case "", "fixed":
		return FixedDelay{Delay: delay}, true
	case "exponential", "backoff":
		return ExponentialBackoff{Base: delay, Max: maxDelay}, true
	default:
		return nil, false
	}
}
