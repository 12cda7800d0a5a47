package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/rollupsim/internal/metrics"
)

// unmarshalJSON decodes a non-critical JSON column, logging corruption
// instead of failing the whole query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage and CacheStorage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ Storage      = (*SQLiteStorage)(nil)
	_ CacheStorage = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps readers (history, MCP) from blocking the writer
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		error_message TEXT,
		network TEXT NOT NULL,
		provider TEXT NOT NULL,
		seed TEXT NOT NULL,
		target_tps INTEGER NOT NULL,
		ticks INTEGER NOT NULL,
		account_count INTEGER NOT NULL,
		token TEXT NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		submitted INTEGER DEFAULT 0,
		accepted INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		retries INTEGER DEFAULT 0,
		confirmed INTEGER DEFAULT 0,
		errors TEXT,
		submit_latency TEXT,
		config TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		batch INTEGER,
		kind TEXT NOT NULL,
		from_account INTEGER,
		to_account INTEGER NOT NULL,
		amount TEXT NOT NULL,
		nonce INTEGER,
		token TEXT NOT NULL,
		accepted INTEGER NOT NULL,
		tx_hash TEXT,
		error_kind TEXT,
		message TEXT,
		attempts INTEGER NOT NULL,
		fee TEXT,
		latency_ms INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_outcomes_hash ON outcomes(tx_hash);

	CREATE TABLE IF NOT EXISTS cached_accounts (
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		nonce INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (network, address)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release; older databases get them here.
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"runs", "confirm_latency", "ALTER TABLE runs ADD COLUMN confirm_latency TEXT"},
		{"runs", "label", "ALTER TABLE runs ADD COLUMN label TEXT"},
		{"runs", "favorite", "ALTER TABLE runs ADD COLUMN favorite INTEGER DEFAULT 0"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.ddl); err != nil {
				slog.Warn("migration failed",
					"table", m.table,
					"column", m.column,
					"error", err.Error())
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table. Identifiers are
// validated before being formatted into the query.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier allows only alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run in the running state.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	status := run.Status
	if status == "" {
		status = StatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, network, provider, seed, target_tps, ticks,
			account_count, token, config, label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, status, run.Network, run.Provider,
		strconv.FormatUint(run.Seed, 10), run.TargetTPS, run.Ticks, run.AccountCount,
		run.Token, nullString(string(run.Config)), run.Label)

	return err
}

// CompleteRun stores the final status and statistics of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *Run) error {
	errorsJSON, _ := json.Marshal(run.Errors)
	submitJSON, _ := json.Marshal(run.SubmitLatency)
	confirmJSON, _ := json.Marshal(run.ConfirmLatency)

	finishedAt := time.Now()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			status = ?,
			error_message = ?,
			ticks = ?,
			duration_ms = ?,
			submitted = ?,
			accepted = ?,
			rejected = ?,
			retries = ?,
			confirmed = ?,
			errors = ?,
			submit_latency = ?,
			confirm_latency = ?
		WHERE id = ?
	`, finishedAt, run.Status, nullString(run.ErrorMessage), run.Ticks, run.DurationMs,
		run.Submitted, run.Accepted, run.Rejected, run.Retries, run.Confirmed,
		string(errorsJSON), string(submitJSON), string(confirmJSON), run.ID)
	if err != nil {
		return err
	}
	return requireRow(result, run.ID)
}

const runColumns = `id, started_at, finished_at, status, error_message, network, provider, seed,
	target_tps, ticks, account_count, token, duration_ms,
	submitted, accepted, rejected, retries, confirmed,
	errors, submit_latency, confirm_latency, config, label, COALESCE(favorite, 0)`

// GetRun returns the run with the given id, or ErrNotFound.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns a page of runs, favorites first, then newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		ORDER BY favorite DESC, started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run and its outcomes.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

// UpdateRunMetadata sets the label and/or favorite flag of a run.
func (s *SQLiteStorage) UpdateRunMetadata(ctx context.Context, id string, update *RunMetadataUpdate) error {
	var updates []string
	var args []interface{}

	if update.Label != nil {
		updates = append(updates, "label = ?")
		args = append(args, nullString(*update.Label))
	}
	if update.Favorite != nil {
		updates = append(updates, "favorite = ?")
		if *update.Favorite {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	if len(updates) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", joinStrings(updates, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for i := 1; i < len(strs); i++ {
		result += sep + strs[i]
	}
	return result
}

// BulkInsertOutcomes writes all outcomes of a run in a single transaction,
// so the fsync cost is paid once.
func (s *SQLiteStorage) BulkInsertOutcomes(ctx context.Context, runID string, outcomes []OutcomeRecord) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (run_id, seq, tick, batch, kind, from_account, to_account, amount, nonce,
			token, accepted, tx_hash, error_kind, message, attempts, fee, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, runID, o.Seq, o.Tick, nullInt64(int64(o.Batch)), o.Kind,
			nullUint32(o.From), o.To, o.Amount, nullUint32(o.Nonce), o.Token, o.Accepted,
			nullString(o.TxHash), nullString(o.ErrorKind), nullString(o.Message),
			o.Attempts, nullString(o.Fee), o.LatencyMs, o.Timestamp)
		if err != nil {
			return fmt.Errorf("insert outcome %d: %w", o.Seq, err)
		}
	}

	return tx.Commit()
}

const outcomeColumns = `seq, tick, batch, kind, from_account, to_account, amount, nonce, token,
	accepted, tx_hash, error_kind, message, attempts, fee, latency_ms, timestamp`

// GetOutcomes returns a page of a run's outcomes in submission order.
func (s *SQLiteStorage) GetOutcomes(ctx context.Context, runID string, limit, offset int) (*PaginatedOutcomes, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes WHERE run_id = ?", runID).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+outcomeColumns+` FROM outcomes
		WHERE run_id = ?
		ORDER BY seq
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []OutcomeRecord{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedOutcomes{
		Outcomes: outcomes,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// GetOutcomeByHash returns the outcome with the given transaction hash, or
// nil if none was recorded.
func (s *SQLiteStorage) GetOutcomeByHash(ctx context.Context, txHash string) (*OutcomeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM outcomes WHERE tx_hash = ?`, txHash)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime
	var errorMsg, label sql.NullString
	var errorsJSON, submitJSON, confirmJSON, configJSON sql.NullString
	var seed string
	var favorite int

	err := row.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Status, &errorMsg,
		&run.Network, &run.Provider, &seed, &run.TargetTPS, &run.Ticks, &run.AccountCount,
		&run.Token, &run.DurationMs,
		&run.Submitted, &run.Accepted, &run.Rejected, &run.Retries, &run.Confirmed,
		&errorsJSON, &submitJSON, &confirmJSON, &configJSON, &label, &favorite)
	if err != nil {
		return nil, err
	}

	run.Seed, err = strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("run %s: parse seed: %w", run.ID, err)
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if errorMsg.Valid {
		run.ErrorMessage = errorMsg.String
	}
	if label.Valid {
		run.Label = &label.String
	}
	run.Favorite = favorite != 0

	if errorsJSON.Valid && errorsJSON.String != "" && errorsJSON.String != "null" {
		unmarshalJSON(errorsJSON.String, &run.Errors, "errors", run.ID)
	}
	if submitJSON.Valid && submitJSON.String != "" && submitJSON.String != "null" {
		run.SubmitLatency = &metrics.LatencyStats{}
		unmarshalJSON(submitJSON.String, run.SubmitLatency, "submit_latency", run.ID)
	}
	if confirmJSON.Valid && confirmJSON.String != "" && confirmJSON.String != "null" {
		run.ConfirmLatency = &metrics.LatencyStats{}
		unmarshalJSON(confirmJSON.String, run.ConfirmLatency, "confirm_latency", run.ID)
	}
	if configJSON.Valid && configJSON.String != "" {
		run.Config = json.RawMessage(configJSON.String)
	}

	return &run, nil
}

func scanOutcome(row scanner) (*OutcomeRecord, error) {
	var o OutcomeRecord
	var batch, from, nonce sql.NullInt64
	var txHash, errorKind, message, fee sql.NullString

	err := row.Scan(&o.Seq, &o.Tick, &batch, &o.Kind, &from, &o.To, &o.Amount, &nonce, &o.Token,
		&o.Accepted, &txHash, &errorKind, &message, &o.Attempts, &fee, &o.LatencyMs, &o.Timestamp)
	if err != nil {
		return nil, err
	}

	if batch.Valid {
		o.Batch = int(batch.Int64)
	}
	if from.Valid {
		v := uint32(from.Int64)
		o.From = &v
	}
	if nonce.Valid {
		v := uint32(nonce.Int64)
		o.Nonce = &v
	}
	o.TxHash = txHash.String
	o.ErrorKind = errorKind.String
	o.Message = message.String
	o.Fee = fee.String

	return &o, nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullUint32(v *uint32) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
