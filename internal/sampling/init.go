// Package sampling draws random values for parameter initialisation.
package sampling

import (
	"math"
	"math/rand"
	"time"
)

// NewRand returns a random source seeded with seed, or with the wall clock
// when seed is zero.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Normal fills dst with independent samples from N(0, std^2)
func Normal(rng *rand.Rand, dst []float32, std float64) {
	for i := range dst {
		dst[i] = float32(rng.NormFloat64() * std)
	}
}

// FanInStd is the 1/sqrt(n) standard deviation used for fan-in scaled init
func FanInStd(n int) float64 {
	return 1.0 / math.Sqrt(float64(n))
}
