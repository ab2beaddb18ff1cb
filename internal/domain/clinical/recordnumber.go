package clinical

import (
	"strconv"
	"sync/atomic"
	"time"
)

// NumberGenerator issues CR-<epoch millis> record numbers. Within a process it
// never hands out the same millisecond twice: when the clock has not advanced
// it bumps past the last value issued.
type NumberGenerator struct {
	last atomic.Int64
	now  func() time.Time
}

func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{now: time.Now}
}

func (g *NumberGenerator) Next() string {
	for {
		last := g.last.Load()
		ms := g.now().UnixMilli()
		if ms <= last {
			ms = last + 1
		}
		if g.last.CompareAndSwap(last, ms) {
			return "CR-" + strconv.FormatInt(ms, 10)
		}
	}
}
