package authority

import (
	"crypto/rand"
	"encoding/binary"
)

// Injector decides, per request, whether to answer with a transient
// overload failure instead of a validation result. It holds no state across
// requests beyond its rate, so concurrent use needs no locking.
type Injector struct {
	rate float64
	draw func() float64
}

// NewInjector returns an injector failing with probability rate in [0, 1].
// Rate 0 never fails and 1 always fails, without drawing.
func NewInjector(rate float64) *Injector {
	return &Injector{rate: rate, draw: uniform}
}

// newInjectorWithDraw lets tests pin the random draw.
func newInjectorWithDraw(rate float64, draw func() float64) *Injector {
	return &Injector{rate: rate, draw: draw}
}

// Rate returns the configured failure probability.
func (i *Injector) Rate() float64 {
	return i.rate
}

// Fail reports whether this request should fail transiently.
func (i *Injector) Fail() bool {
	if i == nil || i.rate <= 0 {
		return false
	}
	if i.rate >= 1 {
		return true
	}
	return i.draw() < i.rate
}

// uniform returns a float in [0, 1) from crypto/rand.
// Fail-safe returns 1 (never inject) on RNG error.
func uniform() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	n := binary.BigEndian.Uint64(buf[:])
	return float64(n>>11) / float64(1<<53)
}
