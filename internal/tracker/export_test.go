package tracker

import (
	"context"
	"time"
)

// SetSweeperSleep replaces the sweeper's sleep function in tests
func SetSweeperSleep(s *Sweeper, sleep func(context.Context, time.Duration) error) {
	s.sleep = sleep
}
