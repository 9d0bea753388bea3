package domain

import "time"

// Clock is the leaf time source used everywhere (C8). Tests supply a fixed
// clock; production uses the wall clock via infra/clock.SystemClock.
type Clock interface {
	NowUTC() time.Time
	TodayLocalYMD() string // YYYY-MM-DD, host-local
	TimeHHMM() string      // HH:MM, host-local
}
