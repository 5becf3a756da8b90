// Package clock maintains the fabric's shared musical time state: pulses per
// quarter note and beats per minute. There is one clock for the whole fabric,
// not one per bus; backends translate ticks to their native time units
// through it at send time.
package clock

import (
	"sync"
	"time"

	"github.com/leandrodaf/midifabric/sdk/contracts"
)

const microsPerMinute = 60_000_000

// MicrosPerQuarter converts beats per minute to microseconds per quarter
// note, the tempo unit of sequencer queues.
func MicrosPerQuarter(bpm int) int {
	if bpm <= 0 {
		bpm = contracts.DefaultBPM
	}
	return microsPerMinute / bpm
}

// BPMFromMicros is the inverse of MicrosPerQuarter.
func BPMFromMicros(us int) int {
	if us <= 0 {
		return contracts.DefaultBPM
	}
	return microsPerMinute / us
}

// Clock holds the shared PPQN/BPM pair. Mutating either field changes the
// tick<->time conversion but never resets the elapsed position.
type Clock struct {
	mu   sync.Mutex
	ppqn int
	bpm  int
}

// New returns a clock at the given resolution and tempo, falling back to the
// defaults for non-positive values.
func New(ppqn, bpm int) *Clock {
	if ppqn <= 0 {
		ppqn = contracts.DefaultPPQN
	}
	if bpm <= 0 {
		bpm = contracts.DefaultBPM
	}
	return &Clock{ppqn: ppqn, bpm: bpm}
}

// PPQN returns the current resolution.
func (c *Clock) PPQN() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ppqn
}

// BPM returns the current tempo.
func (c *Clock) BPM() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

// SetPPQN changes the resolution, leaving the tempo untouched.
func (c *Clock) SetPPQN(p int) {
	if p <= 0 {
		return
	}
	c.mu.Lock()
	c.ppqn = p
	c.mu.Unlock()
}

// SetBPM changes the tempo, leaving the resolution untouched.
func (c *Clock) SetBPM(b int) {
	if b <= 0 {
		return
	}
	c.mu.Lock()
	c.bpm = b
	c.mu.Unlock()
}

// TickDuration returns the wall-clock length of one pulse.
func (c *Clock) TickDuration() time.Duration {
	c.mu.Lock()
	ppqn, bpm := c.ppqn, c.bpm
	c.mu.Unlock()
	return time.Duration(microsPerMinute/(bpm*ppqn)) * time.Microsecond
}

// DurationFor converts a tick count to wall-clock time at the current tempo.
func (c *Clock) DurationFor(ticks uint64) time.Duration {
	c.mu.Lock()
	ppqn, bpm := c.ppqn, c.bpm
	c.mu.Unlock()
	us := ticks * uint64(microsPerMinute) / uint64(bpm*ppqn)
	return time.Duration(us) * time.Microsecond
}

// TicksFor converts wall-clock time to a tick count at the current tempo.
func (c *Clock) TicksFor(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	c.mu.Lock()
	ppqn, bpm := c.ppqn, c.bpm
	c.mu.Unlock()
	return uint64(d.Microseconds()) * uint64(bpm*ppqn) / uint64(microsPerMinute)
}
