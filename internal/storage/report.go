package storage

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/rollupsim/internal/engine"
	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// RunMeta describes a run before it starts.
type RunMeta struct {
	Network      rollup.Network
	Provider     string
	Seed         uint64
	TargetTPS    uint32
	Ticks        uint32
	AccountCount uint32
	Token        string
	Label        string
	// Config is marshalled to JSON as-is.
	Config any
}

// NewRun creates a running Run with a fresh id.
func NewRun(meta RunMeta) (*Run, error) {
	run := &Run{
		ID:           uuid.NewString(),
		StartedAt:    time.Now(),
		Status:       StatusRunning,
		Network:      string(meta.Network),
		Provider:     meta.Provider,
		Seed:         meta.Seed,
		TargetTPS:    meta.TargetTPS,
		Ticks:        meta.Ticks,
		AccountCount: meta.AccountCount,
		Token:        meta.Token,
	}
	if meta.Label != "" {
		label := meta.Label
		run.Label = &label
	}
	if meta.Config != nil {
		data, err := json.Marshal(meta.Config)
		if err != nil {
			return nil, err
		}
		run.Config = data
	}
	return run, nil
}

// CompleteFromReport copies the final state of a finished run into run.
func CompleteFromReport(run *Run, report *engine.Report) {
	finished := report.FinishedAt
	run.FinishedAt = &finished
	run.Seed = report.Seed
	run.Ticks = report.Ticks
	run.DurationMs = report.Duration().Milliseconds()

	run.Status = StatusCompleted
	run.ErrorMessage = ""
	if report.State == engine.StateAborted {
		run.Status = StatusAborted
		if report.Err != nil {
			run.ErrorMessage = report.Err.Error()
		}
	}

	m := report.Metrics
	run.Submitted = m.Submitted
	run.Accepted = m.Accepted
	run.Rejected = m.Rejected
	run.Retries = m.Retries
	run.Confirmed = m.Confirmed
	run.Errors = m.Errors
	run.SubmitLatency = m.SubmitLatency
	run.ConfirmLatency = m.ConfirmLatency
}

// OutcomeRecords flattens a report's outcomes for persistence.
func OutcomeRecords(report *engine.Report) []OutcomeRecord {
	records := make([]OutcomeRecord, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		rec := OutcomeRecord{
			Seq:       o.Seq,
			Tick:      o.Tick,
			Batch:     o.Batch,
			Accepted:  o.Accepted,
			Message:   o.Message,
			Attempts:  o.Attempts,
			LatencyMs: o.Latency.Milliseconds(),
			Timestamp: o.Timestamp,
		}
		if o.Tx != nil {
			rec.Kind = string(o.Tx.Kind())
			rec.Amount = strconv.FormatUint(o.Tx.Value(), 10)
		}

		switch tx := o.Tx.(type) {
		case rollup.Deposit:
			rec.To = uint32(tx.To)
			rec.Token = tx.Token.String()
		case rollup.Transfer:
			from, nonce := uint32(tx.From), uint32(tx.Nonce)
			rec.From = &from
			rec.To = uint32(tx.To)
			rec.Nonce = &nonce
			rec.Token = tx.Token.String()
		}

		if o.Accepted {
			rec.TxHash = o.Hash.Hex()
		} else {
			rec.ErrorKind = o.ErrorKind.String()
		}
		if o.Fee != nil {
			rec.Fee = o.Fee.Dec()
		}
		records = append(records, rec)
	}
	return records
}
