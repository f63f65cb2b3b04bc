package util

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed from the system's secure random source
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock, only if the system source is broken
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// NewSeededRand creates a pseudo random generator seeded with GenerateSeed.
// The generator is not safe for concurrent use.
func NewSeededRand() *mrand.Rand {
	return mrand.New(mrand.NewPCG(GenerateSeed(), GenerateSeed()))
}

// --------------------------------------------------------------------------
// Backoff
// --------------------------------------------------------------------------

// Backoff returns the delay before retry number attempt (starting at 0):
// base doubled per attempt, capped at limit, with a random jitter of +-10%
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && (limit <= 0 || d < limit); i++ {
		d *= 2
	}
	if limit > 0 && d > limit {
		d = limit
	}
	jitter := 0.9 + 0.2*mrand.Float64()
	return time.Duration(float64(d) * jitter)
}
