package comm

import (
	"math"
	"time"
)

const (
	// InfiniteTicks disables the timeout of an async command.
	InfiniteTicks uint32 = math.MaxUint32

	// NoTimeout registers an async command that only NotifyDone can finish.
	NoTimeout time.Duration = -1

	// defaultTimeout applies when a command registers with a zero timeout.
	defaultTimeout = 10 * time.Millisecond
)

// Clock is a free-running tick counter. It is allowed to wrap.
type Clock interface {
	Ticks() uint32
}

type tickClock struct {
	start time.Time
	tick  time.Duration
}

// NewClock returns a monotonic Clock advancing once per tick.
func NewClock(tick time.Duration) Clock {
	if tick <= 0 {
		tick = time.Millisecond
	}
	return &tickClock{start: time.Now(), tick: tick}
}

func (c *tickClock) Ticks() uint32 {
	return uint32(uint64(time.Since(c.start) / c.tick))
}

// durationToTicks converts a registration timeout into ticks, rounding up.
func durationToTicks(d, tick time.Duration) uint32 {
	if d < 0 {
		return InfiniteTicks
	}
	if d == 0 {
		d = defaultTimeout
	}
	n := d / tick
	if n >= time.Duration(InfiniteTicks-1) {
		return InfiniteTicks - 1
	}
	if d%tick != 0 {
		n++
	}
	return uint32(n)
}

// elapsedTicks is safe across counter wraparound.
func elapsedTicks(now, start uint32) uint32 {
	return now - start
}
