package middleware

import "time"

func (rl *RateLimit) SetClock(now func() time.Time) { rl.now = now }
