// Package adapter implements the fabric's link-impairment decorators (spec
// §4.8, C8): Delay, which adds a per-item random latency in both
// directions, and Loss, which drops items during randomly-timed bursts.
// Both wrap an existing *iface.Peer and return a new one with the same
// contract, so they compose transparently with anything else in the fabric
// that accepts an interface peer (a machine's TUN, the hub, the NAT).
package adapter

import (
	"math"
	"math/rand/v2"
	"time"
)

// sampleExponential draws a duration from an exponential distribution with
// the given mean, using the inverse-CDF method (mean * -ln(u)). A draw of
// exactly 0 or 1 for u would yield +Inf or 0 respectively; non-finite draws
// are retried, matching the original adapter::expovariate_duration's retry
// on Duration::try_from_secs_f64 failure.
func sampleExponential(mean time.Duration) time.Duration {
	if mean <= 0 {
		return 0
	}
	meanSecs := mean.Seconds()
	for {
		u := rand.Float64()
		if u <= 0 {
			continue
		}
		secs := meanSecs * -math.Log(u)
		if math.IsInf(secs, 0) || math.IsNaN(secs) || secs < 0 {
			continue
		}
		return time.Duration(secs * float64(time.Second))
	}
}
