package feed

import "time"

const (
	defaultReconnectBase = 2 * time.Second
	maxBackoff           = 30 * time.Second
)

// calculateBackoff doubles the base interval for each consecutive failure,
// capped at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if base <= 0 {
		base = defaultReconnectBase
	}
	if failures <= 0 {
		return base
	}
	wait := base
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}
