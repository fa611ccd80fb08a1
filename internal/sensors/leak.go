package sensors

import (
	"time"
)

// LeakDetector debounces a leak probe. Once latched it stays latched until
// the process restarts; water in the hull does not dry up by itself.
type LeakDetector struct {
	sample   func() (bool, error)
	period   time.Duration
	debounce int

	activeRun   int
	latched     bool
	lastSample  time.Time
	sampledOnce bool
}

// NewLeakDetector samples via sample, at most once per period, and latches
// after debounce consecutive active samples.
func NewLeakDetector(sample func() (bool, error), period time.Duration, debounce int) *LeakDetector {
	if debounce <= 0 {
		debounce = 1
	}
	return &LeakDetector{sample: sample, period: period, debounce: debounce}
}

// Update takes a sample if the period elapsed. It returns true exactly once,
// on the sample that latches the leak.
func (d *LeakDetector) Update(now time.Time) (bool, error) {
	if d.sampledOnce && now.Sub(d.lastSample) < d.period {
		return false, nil
	}
	d.sampledOnce = true
	d.lastSample = now

	active, err := d.sample()
	if err != nil {
		return false, err
	}
	if active {
		d.activeRun++
	} else {
		d.activeRun = 0
	}
	if d.activeRun >= d.debounce && !d.latched {
		d.latched = true
		return true, nil
	}
	return false, nil
}

// Latched reports a confirmed leak.
func (d *LeakDetector) Latched() bool { return d.latched }
