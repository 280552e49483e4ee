package market

import (
	"math/rand"
	"time"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }
