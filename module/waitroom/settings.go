package waitroom

import (
	"sync/atomic"
	"time"
)

// Position maps a 1-based queue index to the user's waiting position given an
// admission window of capacity users: ranks inside the window are admitted
// (0), everyone behind waits index-capacity.
func Position(index, capacity int) int {
	if capacity < 0 {
		capacity = 0
	}
	if index <= capacity {
		return 0
	}
	return index - capacity
}

// Settings holds the tunables that can be changed while the room is running
// (see config/config_watcher.go). Safe for concurrent use.
type Settings struct {
	capacity atomic.Int64
	timeout  atomic.Int64
}

func NewSettings(capacity int, timeout time.Duration) *Settings {
	s := &Settings{}
	s.SetCapacity(capacity)
	s.SetTimeout(timeout)
	return s
}

// Capacity is the admission window size C.
func (s *Settings) Capacity() int { return int(s.capacity.Load()) }

// SetCapacity resizes the window and returns the previous size. Positions
// change on the next broadcast.
func (s *Settings) SetCapacity(c int) int {
	if c < 0 {
		c = 0
	}
	return int(s.capacity.Swap(int64(c)))
}

// Timeout is the heartbeat staleness threshold.
func (s *Settings) Timeout() time.Duration { return time.Duration(s.timeout.Load()) }

func (s *Settings) SetTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = DefaultTimeout
	}
	return time.Duration(s.timeout.Swap(int64(d)))
}

// Position applies the current window to a 1-based index.
func (s *Settings) Position(index int) int { return Position(index, s.Capacity()) }

// Admitted reports whether the 1-based index falls inside the window.
func (s *Settings) Admitted(index int) bool { return s.Position(index) == 0 }

const (
	DefaultCapacity      = 2
	DefaultTimeout       = 20 * time.Second
	DefaultSweepInterval = 10 * time.Second
)
