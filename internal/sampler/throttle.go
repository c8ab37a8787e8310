package sampler

import "math"

// Default sampling periods in seconds.
const (
	DefaultTickTime        = 10.0
	DefaultTickTimeVehicle = 2.0
)

// Throttle gates how often an entity is sampled. A single accumulator is
// shared between the normal and the special-mobility threshold and is reset
// to zero whenever either fires.
type Throttle struct {
	normal  float64
	special float64
	elapsed float64
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// PrimeFirstSample makes the first eligible tick fire regardless of the
// time elapsed.
func PrimeFirstSample() ThrottleOption {
	return func(t *Throttle) {
		t.elapsed = math.Inf(1)
	}
}

// NewThrottle creates a throttle with the given normal and special-mobility
// periods in seconds. Non-positive periods fall back to the defaults.
func NewThrottle(normal, special float64, opts ...ThrottleOption) *Throttle {
	if normal <= 0 {
		normal = DefaultTickTime
	}
	if special <= 0 {
		special = DefaultTickTimeVehicle
	}
	t := &Throttle{normal: normal, special: special}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tick advances the accumulator by delta seconds and reports whether a
// sample should be taken now. Ineligible entities never fire and do not
// accumulate.
func (t *Throttle) Tick(delta float64, eligible, special bool) bool {
	if !eligible {
		return false
	}

	t.elapsed += delta
	if (special && t.elapsed >= t.special) || t.elapsed >= t.normal {
		t.elapsed = 0
		return true
	}
	return false
}

// Elapsed returns the time accumulated since the last sample.
func (t *Throttle) Elapsed() float64 {
	return t.elapsed
}

// Thresholds returns the normal and special-mobility periods.
func (t *Throttle) Thresholds() (normal, special float64) {
	return t.normal, t.special
}
