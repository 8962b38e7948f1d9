package adapter

import (
	"math/rand/v2"
	"time"
)

// Jitter is the two-state dropping/passing process behind Loss (spec §4.8
// "Loss"): dwell time in each state is drawn from an exponential
// distribution scaled by jitterPeriod and the loss rate, directly grounded
// on the original adapter::loss::Jitter state machine.
type Jitter struct {
	lossRate          float64
	jitterPeriod      time.Duration
	currentlyDropping bool
	prevSwitch        time.Time
	nextSwitch        time.Time
}

// NewJitter creates a Jitter process already seeded as of now.
func NewJitter(lossRate float64, jitterPeriod time.Duration) *Jitter {
	j := &Jitter{lossRate: lossRate, jitterPeriod: jitterPeriod}
	j.reset(time.Now())
	return j
}

func (j *Jitter) reset(at time.Time) {
	j.prevSwitch = at
	j.currentlyDropping = rand.Float64() < j.lossRate
	j.setNextSwitch()
}

// Advance walks the state machine forward to now. If the wall clock has
// jumped by more than 10*jitterPeriod since the last scheduled switch (spec
// §4.8), the process is re-seeded fresh instead of replaying every missed
// switch.
func (j *Jitter) Advance() {
	now := time.Now()
	if j.nextSwitch.Add(j.jitterPeriod * 10).Before(now) {
		j.reset(now)
		return
	}
	for j.nextSwitch.Before(now) {
		j.prevSwitch = j.nextSwitch
		j.currentlyDropping = !j.currentlyDropping
		j.setNextSwitch()
	}
}

// CurrentlyDropping reports whether the process is in its dropping state as
// of the last Advance call.
func (j *Jitter) CurrentlyDropping() bool { return j.currentlyDropping }

func (j *Jitter) setNextSwitch() {
	var dwellMean time.Duration
	if j.currentlyDropping {
		dwellMean = time.Duration(float64(j.jitterPeriod) * j.lossRate)
	} else {
		dwellMean = time.Duration(float64(j.jitterPeriod) * (1 - j.lossRate))
	}
	j.nextSwitch = j.prevSwitch.Add(sampleExponential(dwellMean))
}
