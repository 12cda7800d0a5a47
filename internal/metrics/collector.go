package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// Snapshot is a point-in-time view of a run's counters.
type Snapshot struct {
	Submitted     uint64            `json:"submitted"`
	Accepted      uint64            `json:"accepted"`
	Rejected      uint64            `json:"rejected"`
	Retries       uint64            `json:"retries"`
	Deposits      uint64            `json:"deposits"`
	Transfers     uint64            `json:"transfers"`
	Confirmed     uint64            `json:"confirmed"`
	ConfirmFailed uint64            `json:"confirm_failed"`
	InFlight      int64             `json:"in_flight"`
	PeakInFlight  int64             `json:"peak_in_flight"`
	Errors        map[string]uint64 `json:"errors,omitempty"`

	SubmitLatency  *LatencyStats `json:"submit_latency,omitempty"`
	ConfirmLatency *LatencyStats `json:"confirm_latency,omitempty"`
}

// Collector receives the engine's submission events.
type Collector interface {
	RecordSubmitted(kind rollup.TxKind)
	RecordAccepted(kind rollup.TxKind, hash rollup.TxHash, latency time.Duration, at time.Time)
	RecordRejected(kind rollup.TxKind, errKind rollup.ErrorKind, latency time.Duration)
	RecordRetry(errKind rollup.ErrorKind)
	RecordConfirmed(hash rollup.TxHash, success bool, at time.Time)
	RecordFee(fee *uint256.Int)
	AddInFlight(delta int64)
	SetTargetTPS(tps uint32)
	SetState(state string)

	Unconfirmed() []TrackedTx
	Snapshot() Snapshot
	Reset()
}

// MemoryCollector keeps counters in memory and forwards every event to
// Prometheus when configured.
type MemoryCollector struct {
	tracker        *TxTracker
	submitLatency  *LatencyRecorder
	confirmLatency *LatencyRecorder
	prom           *Prometheus

	submitted     atomic.Uint64
	accepted      atomic.Uint64
	rejected      atomic.Uint64
	retries       atomic.Uint64
	deposits      atomic.Uint64
	transfers     atomic.Uint64
	confirmed     atomic.Uint64
	confirmFailed atomic.Uint64
	inFlight      Gauge

	errorsMu sync.Mutex
	errors   map[rollup.ErrorKind]uint64
}

var _ Collector = (*MemoryCollector)(nil)

// NewMemoryCollector creates a collector. prom may be nil.
func NewMemoryCollector(prom *Prometheus) *MemoryCollector {
	return &MemoryCollector{
		tracker:        NewTxTracker(),
		submitLatency:  NewLatencyRecorder(SubmitBuckets),
		confirmLatency: NewLatencyRecorder(ConfirmBuckets),
		prom:           prom,
		errors:         make(map[rollup.ErrorKind]uint64),
	}
}

// RecordSubmitted counts a transaction handed to the provider. Retries of
// the same transaction are not counted again.
func (c *MemoryCollector) RecordSubmitted(kind rollup.TxKind) {
	c.submitted.Add(1)
	switch kind {
	case rollup.TxKindDeposit:
		c.deposits.Add(1)
	case rollup.TxKindTransfer:
		c.transfers.Add(1)
	}
	if c.prom != nil {
		c.prom.RecordSubmitted(kind)
	}
}

// RecordAccepted counts an accepted transaction and starts tracking it for
// confirmation.
func (c *MemoryCollector) RecordAccepted(kind rollup.TxKind, hash rollup.TxHash, latency time.Duration, at time.Time) {
	c.accepted.Add(1)
	c.submitLatency.Observe(latency)
	c.tracker.Add(hash, kind, at)
	if c.prom != nil {
		c.prom.RecordAccepted(kind, latency.Seconds())
	}
}

// RecordRejected counts a rejected transaction under its error kind.
func (c *MemoryCollector) RecordRejected(kind rollup.TxKind, errKind rollup.ErrorKind, latency time.Duration) {
	c.rejected.Add(1)
	c.submitLatency.Observe(latency)

	c.errorsMu.Lock()
	c.errors[errKind]++
	c.errorsMu.Unlock()

	if c.prom != nil {
		c.prom.RecordRejected(kind, errKind, latency.Seconds())
	}
}

// RecordRetry counts one resubmission.
func (c *MemoryCollector) RecordRetry(errKind rollup.ErrorKind) {
	c.retries.Add(1)
	if c.prom != nil {
		c.prom.RecordRetry(errKind)
	}
}

// RecordConfirmed records the provider reporting hash as executed. Hashes
// that were never accepted, or were evicted, are ignored.
func (c *MemoryCollector) RecordConfirmed(hash rollup.TxHash, success bool, at time.Time) {
	tx, ok := c.tracker.Remove(hash)
	if !ok {
		return
	}

	if success {
		c.confirmed.Add(1)
	} else {
		c.confirmFailed.Add(1)
	}
	latency := at.Sub(tx.AcceptedAt)
	c.confirmLatency.Observe(latency)
	if c.prom != nil {
		c.prom.RecordConfirmed(success, latency.Seconds())
	}
}

// RecordFee records a quoted fee.
func (c *MemoryCollector) RecordFee(fee *uint256.Int) {
	if c.prom != nil && fee != nil {
		c.prom.RecordFee(fee.Float64())
	}
}

// AddInFlight adjusts the number of outstanding submissions.
func (c *MemoryCollector) AddInFlight(delta int64) {
	v := c.inFlight.Add(delta)
	if c.prom != nil {
		c.prom.SetInFlight(v)
	}
}

// SetTargetTPS publishes the configured ceiling.
func (c *MemoryCollector) SetTargetTPS(tps uint32) {
	if c.prom != nil {
		c.prom.SetTargetTPS(float64(tps))
	}
}

// SetState publishes the engine state.
func (c *MemoryCollector) SetState(state string) {
	if c.prom != nil {
		c.prom.SetState(state)
	}
}

// Unconfirmed returns accepted transactions not yet confirmed, oldest first.
func (c *MemoryCollector) Unconfirmed() []TrackedTx {
	return c.tracker.Pending()
}

// Snapshot returns the current counters.
func (c *MemoryCollector) Snapshot() Snapshot {
	s := Snapshot{
		Submitted:      c.submitted.Load(),
		Accepted:       c.accepted.Load(),
		Rejected:       c.rejected.Load(),
		Retries:        c.retries.Load(),
		Deposits:       c.deposits.Load(),
		Transfers:      c.transfers.Load(),
		Confirmed:      c.confirmed.Load(),
		ConfirmFailed:  c.confirmFailed.Load(),
		InFlight:       c.inFlight.Load(),
		PeakInFlight:   c.inFlight.Peak(),
		SubmitLatency:  c.submitLatency.Stats(),
		ConfirmLatency: c.confirmLatency.Stats(),
	}

	c.errorsMu.Lock()
	if len(c.errors) > 0 {
		s.Errors = make(map[string]uint64, len(c.errors))
		for kind, n := range c.errors {
			s.Errors[kind.String()] = n
		}
	}
	c.errorsMu.Unlock()

	return s
}

// Reset clears all counters. Prometheus vectors are reset too.
func (c *MemoryCollector) Reset() {
	c.tracker.Reset()
	c.submitLatency.Reset()
	c.confirmLatency.Reset()

	for _, u := range []*atomic.Uint64{
		&c.submitted, &c.accepted, &c.rejected, &c.retries,
		&c.deposits, &c.transfers, &c.confirmed, &c.confirmFailed,
	} {
		u.Store(0)
	}
	c.inFlight.Reset()

	c.errorsMu.Lock()
	c.errors = make(map[rollup.ErrorKind]uint64)
	c.errorsMu.Unlock()

	if c.prom != nil {
		c.prom.Reset()
	}
}
