package request

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// IDGen hands out positive ids from a monotonic counter advanced by a small
// random stride. The counter is seeded from the clock so ids from an earlier
// run are unlikely to collide; the Registry still checks the log.
type IDGen struct {
	mu   sync.Mutex
	last int32
}

// NewIDGen seeds a generator from now.
func NewIDGen(now time.Time) *IDGen {
	return &IDGen{last: int32(now.Unix()%(1<<20)) << 10}
}

// Next returns the next candidate id.
func (g *IDGen) Next() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	step := 1 + rand.Int32N(64)
	if g.last > math.MaxInt32-step {
		g.last = 0
	}
	g.last += step
	return g.last
}
