package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/gateway-fm/rollupsim/internal/engine"
	"github.com/gateway-fm/rollupsim/internal/metrics"
	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/storage"
)

func sampleReport() *engine.Report {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.Report{
		State:      engine.StateCompleted,
		Seed:       42,
		Network:    "localhost",
		Token:      "RBTC",
		TargetTPS:  10,
		Ticks:      2,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Outcomes: []engine.Outcome{
			{Seq: 1, Accepted: true, Tx: rollup.Deposit{To: 1, Amount: 100}},
			{Seq: 2, Accepted: true, Tx: rollup.Deposit{To: 2, Amount: 100}},
			{Seq: 3, Tx: rollup.Deposit{To: 3, Amount: 100}, ErrorKind: rollup.KindIncorrectInput},
		},
		Metrics: metrics.Snapshot{
			Retries: 2,
			Errors:  map[string]uint64{"IncorrectInput": 1},
			SubmitLatency: &metrics.LatencyStats{
				Count: 3, P50: 2, P95: 5, P99: 5, Max: 5,
			},
		},
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{Out: &buf, NoColor: true}
	p.Summary(sampleReport())

	out := buf.String()
	assert.Contains(t, out, "Simulation completed in 1.5s")
	assert.Contains(t, out, "network localhost, token RBTC, seed 42, 10 tps x 2 ticks")
	assert.Contains(t, out, "accepted: 2")
	assert.Contains(t, out, "rejected: 1")
	assert.Contains(t, out, "retries:  2")
	assert.Contains(t, out, "IncorrectInput")
	assert.Contains(t, out, "submit latency: p50 2.0ms  p95 5.0ms  p99 5.0ms  max 5.0ms")
	assert.NotContains(t, out, "confirm latency")
	assert.NotContains(t, out, "\x1b[", "colour codes must be disabled")
}

func TestSummaryAborted(t *testing.T) {
	r := sampleReport()
	r.State = engine.StateAborted
	r.Err = rollup.NewError(rollup.KindNetworkNotSupported, "devnet")
	r.Outcomes = nil

	var buf bytes.Buffer
	(&Printer{Out: &buf, NoColor: true}).Summary(r)

	out := buf.String()
	assert.Contains(t, out, "Simulation aborted after 1.5s: ")
	assert.Contains(t, out, r.Err.Error())
	assert.Contains(t, out, "accepted: 0")
	assert.Contains(t, out, "rejected: 0")
}

func TestOutcomesTable(t *testing.T) {
	from, nonce := uint32(1), uint32(3)
	records := []storage.OutcomeRecord{
		{Seq: 1, Kind: "deposit", To: 4, Amount: "100", Accepted: true, TxHash: "0xabc", Attempts: 1, LatencyMs: 7},
		{Seq: 2, Tick: 1, Batch: 2, Kind: "transfer", From: &from, To: 0, Amount: "5", Nonce: &nonce,
			ErrorKind: "OperationTimeout", Message: "timed out", Attempts: 4, LatencyMs: 90},
	}

	var buf bytes.Buffer
	(&Printer{Out: &buf, NoColor: true}).Outcomes(records)

	out := buf.String()
	assert.Contains(t, out, "Hash / Error")
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "OperationTimeout: timed out")
	assert.Contains(t, out, "accepted")
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, "90ms")
}

func TestRunsTable(t *testing.T) {
	label := "baseline"
	runs := []storage.Run{
		{ID: "run-1", Status: storage.StatusCompleted, Network: "testnet", TargetTPS: 50, Ticks: 4,
			Accepted: 190, Rejected: 10, DurationMs: 4200, Label: &label, Favorite: true},
		{ID: "run-2", Status: storage.StatusAborted, Network: "mainnet"},
	}

	var buf bytes.Buffer
	(&Printer{Out: &buf, NoColor: true}).Runs(runs)

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "* baseline")
	assert.Contains(t, out, "4.2s")
	assert.Contains(t, out, "aborted")
}

func TestKindColor(t *testing.T) {
	assert.Equal(t, color.FgYellow, kindColor("NetworkError"))
	assert.Equal(t, color.FgYellow, kindColor("OperationTimeout"))
	assert.Equal(t, color.FgRed, kindColor("IncorrectInput"))
	assert.Equal(t, color.FgRed, kindColor("NoSuchKind"))
}

func TestOptionalFormatting(t *testing.T) {
	v := uint32(9)
	assert.Equal(t, "-", optionalUint32(nil))
	assert.Equal(t, "9", optionalUint32(&v))
	assert.Equal(t, "-", optionalInt(0))
	assert.Equal(t, "3", optionalInt(3))
}
