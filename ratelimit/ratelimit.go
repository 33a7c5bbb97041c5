// Package ratelimit paces packet producers to a packets-per-second rate.
package ratelimit

import "time"

// Throttle limits to a fixed number of packets per second on average.
// A nil *Throttle never blocks.
//
// WARNING: Not safe for concurrent use.
type Throttle struct {
	pps        uint64
	interval   time.Duration // per packet
	start      time.Time
	admitted   uint64
	nextCheck  uint64
	checkEvery uint64

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a Throttle for pps packets per second, or nil for pps == 0.
func New(pps uint64) *Throttle {
	if pps == 0 {
		return nil
	}
	// Look at the clock roughly every 10ms worth of packets, at least every
	// 32 and at most every 1024 packets.
	every := min(max(pps/100, 32), 1024)
	return &Throttle{
		pps:        pps,
		interval:   time.Second / time.Duration(pps),
		start:      time.Now(),
		nextCheck:  every,
		checkEvery: every,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Rate returns the configured packets per second, 0 for a nil Throttle.
func (t *Throttle) Rate() uint64 {
	if t == nil {
		return 0
	}
	return t.pps
}

// ThrottleN admits n packets, sleeping if they are ahead of schedule.
// Time lost while behind schedule is not made up with bursts beyond what
// the average permits.
func (t *Throttle) ThrottleN(n uint64) {
	if t == nil || n == 0 {
		return
	}
	t.admitted += n
	if t.admitted < t.nextCheck {
		return
	}
	t.nextCheck = t.admitted + t.checkEvery

	due := t.start.Add(time.Duration(t.admitted) * t.interval)
	if now := t.now(); now.Before(due) {
		t.sleep(due.Sub(now))
	}
}

// Reset restarts the schedule from now.
func (t *Throttle) Reset() {
	if t == nil {
		return
	}
	t.start = t.now()
	t.admitted = 0
	t.nextCheck = t.checkEvery
}
