// Package metrics collects submission outcomes, latencies and throughput
// for a simulation run, in memory and optionally as Prometheus metrics.
package metrics

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// LatencyBucket is one histogram bucket of a latency distribution.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats summarizes a latency distribution in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P95     float64         `json:"p95"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets"`
}

// DefaultReservoirSize bounds the samples kept for percentiles.
const DefaultReservoirSize = 10000

// Bucket upper bounds for the two latencies the engine records.
var (
	SubmitBuckets  = []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 250 * time.Millisecond, time.Second}
	ConfirmBuckets = []time.Duration{250 * time.Millisecond, time.Second, 5 * time.Second, 30 * time.Second}
)

// LatencyRecorder accumulates a latency distribution with bounded memory:
// exact count, min, max and mean, plus percentiles estimated from a uniform
// reservoir sample. It is safe for concurrent use.
type LatencyRecorder struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir []float64
	capacity  int
	rng       *rand.Rand

	bounds []float64 // ms
	labels []string
	counts []int64
}

// NewLatencyRecorder creates a recorder histogramming into buckets split at
// bounds, which must be ascending.
func NewLatencyRecorder(bounds []time.Duration) *LatencyRecorder {
	return newLatencyRecorder(bounds, DefaultReservoirSize)
}

func newLatencyRecorder(bounds []time.Duration, capacity int) *LatencyRecorder {
	r := &LatencyRecorder{
		min:       math.MaxFloat64,
		reservoir: make([]float64, 0, min(capacity, 1024)),
		capacity:  capacity,
		rng:       rand.New(rand.NewPCG(0x5eed, uint64(capacity))),
		bounds:    make([]float64, len(bounds)),
		labels:    bucketLabels(bounds),
		counts:    make([]int64, len(bounds)+1),
	}
	for i, b := range bounds {
		r.bounds[i] = toMs(b)
	}
	return r
}

// bucketLabels names the ranges between consecutive bounds, e.g. "0-10ms",
// "10ms-1s" and a final "1s+".
func bucketLabels(bounds []time.Duration) []string {
	labels := make([]string, 0, len(bounds)+1)
	lo := "0"
	for _, b := range bounds {
		hi := b.String()
		labels = append(labels, lo+"-"+hi)
		lo = hi
	}
	return append(labels, lo+"+")
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Observe records one latency.
func (r *LatencyRecorder) Observe(d time.Duration) {
	ms := toMs(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	r.sum += ms
	r.min = min(r.min, ms)
	r.max = max(r.max, ms)

	i := sort.SearchFloat64s(r.bounds, ms)
	// SearchFloat64s finds the first bound >= ms; a value on a bound
	// belongs to the bucket above it.
	if i < len(r.bounds) && r.bounds[i] == ms {
		i++
	}
	r.counts[i]++

	// Algorithm R: keep each of the first count samples with equal probability.
	if len(r.reservoir) < r.capacity {
		r.reservoir = append(r.reservoir, ms)
		return
	}
	if j := r.rng.Int64N(r.count); j < int64(r.capacity) {
		r.reservoir[j] = ms
	}
}

// Stats returns the distribution so far, or nil when nothing was observed.
func (r *LatencyRecorder) Stats() *LatencyStats {
	r.mu.Lock()
	if r.count == 0 {
		r.mu.Unlock()
		return nil
	}
	sorted := append([]float64(nil), r.reservoir...)
	stats := &LatencyStats{
		Count:   int(r.count),
		Min:     r.min,
		Max:     r.max,
		Avg:     r.sum / float64(r.count),
		Buckets: make([]LatencyBucket, len(r.counts)),
	}
	for i, n := range r.counts {
		stats.Buckets[i] = LatencyBucket{Label: r.labels[i], Count: int(n)}
	}
	r.mu.Unlock()

	sort.Float64s(sorted)
	stats.P50 = percentile(sorted, 0.50)
	stats.P90 = percentile(sorted, 0.90)
	stats.P95 = percentile(sorted, 0.95)
	stats.P99 = percentile(sorted, 0.99)
	return stats
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

// Count returns the number of observations.
func (r *LatencyRecorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset discards all observations.
func (r *LatencyRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count, r.sum = 0, 0
	r.min, r.max = math.MaxFloat64, 0
	r.reservoir = r.reservoir[:0]
	clear(r.counts)
}
