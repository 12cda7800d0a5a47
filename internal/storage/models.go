// Package storage persists simulation run history and per-network account
// nonces in SQLite.
package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gateway-fm/rollupsim/internal/metrics"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Run is a persisted simulation run with its summary statistics.
type Run struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	Network      string `json:"network"`
	Provider     string `json:"provider"`
	Seed         uint64 `json:"seed"`
	TargetTPS    uint32 `json:"targetTps"`
	Ticks        uint32 `json:"ticks"`
	AccountCount uint32 `json:"accountCount"`
	Token        string `json:"token"`

	DurationMs int64  `json:"durationMs"`
	Submitted  uint64 `json:"submitted"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Retries    uint64 `json:"retries"`
	Confirmed  uint64 `json:"confirmed"`

	// Errors counts rejections by error kind name.
	Errors         map[string]uint64     `json:"errors,omitempty"`
	SubmitLatency  *metrics.LatencyStats `json:"submitLatency,omitempty"`
	ConfirmLatency *metrics.LatencyStats `json:"confirmLatency,omitempty"`
	// Config is the run configuration as submitted, opaque to storage.
	Config json.RawMessage `json:"config,omitempty"`

	Label    *string `json:"label,omitempty"`
	Favorite bool    `json:"favorite"`
}

// RunMetadataUpdate changes the user-facing metadata of a run. Nil fields
// are left untouched.
type RunMetadataUpdate struct {
	Label    *string `json:"label,omitempty"`
	Favorite *bool   `json:"favorite,omitempty"`
}

// OutcomeRecord is one transaction outcome of a run.
type OutcomeRecord struct {
	Seq   uint64  `json:"seq"`
	Tick  uint32  `json:"tick"`
	Batch int     `json:"batch,omitempty"`
	Kind  string  `json:"kind"`
	From  *uint32 `json:"from,omitempty"` // nil for deposits
	To    uint32  `json:"to"`
	// Amount is a decimal string, so values above int64 survive the round trip.
	Amount    string    `json:"amount"`
	Nonce     *uint32   `json:"nonce,omitempty"`
	Token     string    `json:"token"`
	Accepted  bool      `json:"accepted"`
	TxHash    string    `json:"txHash,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts"`
	Fee       string    `json:"fee,omitempty"`
	LatencyMs int64     `json:"latencyMs"`
	Timestamp time.Time `json:"timestamp"`
}

// CachedAccount is an account nonce remembered between runs.
type CachedAccount struct {
	Network   string    `json:"network"`
	Address   string    `json:"address"`
	Nonce     uint32    `json:"nonce"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunDetail combines a run with the first page of its outcomes.
type RunDetail struct {
	Run      *Run               `json:"run"`
	Outcomes *PaginatedOutcomes `json:"outcomes"`
}

// PaginatedRuns is a page of runs.
type PaginatedRuns struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// PaginatedOutcomes is a page of outcomes.
type PaginatedOutcomes struct {
	Outcomes []OutcomeRecord `json:"outcomes"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}
