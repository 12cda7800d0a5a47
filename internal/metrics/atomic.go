package metrics

import "sync/atomic"

// Gauge counts something that comes and goes, such as in-flight
// submissions. It never reads below zero and remembers its high-water mark.
type Gauge struct {
	value atomic.Int64
	peak  atomic.Int64
}

// Add moves the gauge by delta and returns the new value. A decrement past
// zero leaves it at zero.
func (g *Gauge) Add(delta int64) int64 {
	for {
		old := g.value.Load()
		next := max(old+delta, 0)
		if g.value.CompareAndSwap(old, next) {
			g.raisePeak(next)
			return next
		}
	}
}

func (g *Gauge) raisePeak(v int64) {
	for {
		p := g.peak.Load()
		if v <= p || g.peak.CompareAndSwap(p, v) {
			return
		}
	}
}

func (g *Gauge) Load() int64 { return g.value.Load() }

// Peak is the highest value since creation or the last Reset.
func (g *Gauge) Peak() int64 { return g.peak.Load() }

func (g *Gauge) Reset() {
	g.value.Store(0)
	g.peak.Store(0)
}
