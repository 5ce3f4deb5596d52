package engine

import "time"

// Clock supplies "now" so recurrence and window logic stay deterministic in
// tests. The process clock reads in UTC, the engine's single reference zone.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func SystemClock() Clock { return systemClock{} }
