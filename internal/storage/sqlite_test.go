package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/rollupsim/internal/metrics"
)

func TestJoinStrings(t *testing.T) {
	tests := []struct {
		name string
		strs []string
		sep  string
		want string
	}{
		{name: "empty slice", strs: []string{}, sep: ", ", want: ""},
		{name: "single element", strs: []string{"label = ?"}, sep: ", ", want: "label = ?"},
		{name: "two elements", strs: []string{"label = ?", "favorite = ?"}, sep: ", ", want: "label = ?, favorite = ?"},
		{name: "different separator", strs: []string{"a", "b", "c"}, sep: " AND ", want: "a AND b AND c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinStrings(tt.strs, tt.sep); got != tt.want {
				t.Errorf("joinStrings(%v, %q) = %q, want %q", tt.strs, tt.sep, got, tt.want)
			}
		})
	}
}

func TestNullHelpers(t *testing.T) {
	if v := nullInt64(0); v.Valid {
		t.Error("nullInt64(0) should be invalid")
	}
	if v := nullInt64(-4); !v.Valid || v.Int64 != -4 {
		t.Errorf("nullInt64(-4) = %+v", v)
	}
	if v := nullString(""); v.Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if v := nullString("x"); !v.Valid || v.String != "x" {
		t.Errorf("nullString(\"x\") = %+v", v)
	}
	if v := nullUint32(nil); v.Valid {
		t.Error("nullUint32(nil) should be invalid")
	}
	zero := uint32(0)
	if v := nullUint32(&zero); !v.Valid || v.Int64 != 0 {
		t.Errorf("nullUint32(&0) = %+v, want valid zero", v)
	}
}

// createTestStorage creates a new SQLite storage in a temporary directory.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "storage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	storage, err := NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		storage.Close()
		os.RemoveAll(tmpDir)
	}

	return storage, cleanup
}

func newTestRun(id string, startedAt time.Time) *Run {
	return &Run{
		ID:           id,
		StartedAt:    startedAt,
		Status:       StatusRunning,
		Network:      "localhost",
		Provider:     "local",
		Seed:         42,
		TargetTPS:    10,
		Ticks:        3,
		AccountCount: 5,
		Token:        "RBTC",
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	if storage.db == nil {
		t.Fatal("expected db to be non-nil")
	}
}

func TestNewSQLiteStorage_InvalidPath(t *testing.T) {
	// A regular file where a directory is expected cannot be created over,
	// even with elevated permissions.
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewSQLiteStorage(filepath.Join(file, "sub", "test.db")); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.CreateRun(context.Background(), newTestRun("persisted", time.Now())); err != nil {
		t.Fatal(err)
	}
	first.Close()

	// Migrations must be idempotent.
	second, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	if _, err := second.GetRun(context.Background(), "persisted"); err != nil {
		t.Errorf("GetRun after reopen: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Millisecond)

	run := newTestRun("run-123", started)
	run.Seed = 1<<63 + 5 // does not fit an int64
	run.Config = json.RawMessage(`{"general":{"tps":10}}`)

	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := storage.GetRun(ctx, "run-123")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}

	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, StatusRunning)
	}
	if got.Seed != run.Seed {
		t.Errorf("Seed = %d, want %d", got.Seed, run.Seed)
	}
	if got.Network != "localhost" || got.Provider != "local" || got.Token != "RBTC" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if got.TargetTPS != 10 || got.Ticks != 3 || got.AccountCount != 5 {
		t.Errorf("unexpected shape fields: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
	if string(got.Config) != string(run.Config) {
		t.Errorf("Config = %s, want %s", got.Config, run.Config)
	}
	if got.Label != nil || got.Favorite {
		t.Errorf("unexpected metadata: label=%v favorite=%v", got.Label, got.Favorite)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := storage.GetRun(context.Background(), "nonexistent-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteRun(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	run := newTestRun("run-complete", time.Now())
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	finished := time.Now().UTC().Truncate(time.Millisecond)
	run.FinishedAt = &finished
	run.Status = StatusAborted
	run.ErrorMessage = "network not supported: devnet"
	run.DurationMs = 1500
	run.Submitted = 12
	run.Accepted = 9
	run.Rejected = 3
	run.Retries = 2
	run.Confirmed = 8
	run.Errors = map[string]uint64{"OperationTimeout": 2, "IncorrectInput": 1}
	run.SubmitLatency = &metrics.LatencyStats{Count: 12, Min: 1, Max: 40, Avg: 10, P50: 8, P99: 40}

	if err := storage.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err := storage.GetRun(ctx, "run-complete")
	if err != nil {
		t.Fatal(err)
	}

	if got.Status != StatusAborted {
		t.Errorf("Status = %q, want %q", got.Status, StatusAborted)
	}
	if got.ErrorMessage != run.ErrorMessage {
		t.Errorf("ErrorMessage = %q, want %q", got.ErrorMessage, run.ErrorMessage)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
	if got.Submitted != 12 || got.Accepted != 9 || got.Rejected != 3 || got.Retries != 2 || got.Confirmed != 8 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.Errors["OperationTimeout"] != 2 || got.Errors["IncorrectInput"] != 1 {
		t.Errorf("Errors = %v", got.Errors)
	}
	if got.SubmitLatency == nil || got.SubmitLatency.P99 != 40 || got.SubmitLatency.Count != 12 {
		t.Errorf("SubmitLatency = %+v", got.SubmitLatency)
	}
	if got.ConfirmLatency != nil {
		t.Errorf("ConfirmLatency = %+v, want nil", got.ConfirmLatency)
	}
}

func TestCompleteRun_NotFound(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	err := storage.CompleteRun(context.Background(), newTestRun("missing", time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		run := newTestRun(id, base.Add(time.Duration(i)*time.Minute))
		if err := storage.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) failed: %v", id, err)
		}
	}

	page, err := storage.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(page.Runs))
	}
	// Newest first
	if page.Runs[0].ID != "e" || page.Runs[1].ID != "d" {
		t.Errorf("unexpected order: %s, %s", page.Runs[0].ID, page.Runs[1].ID)
	}

	page, err = storage.ListRuns(ctx, 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Runs) != 1 || page.Runs[0].ID != "a" {
		t.Errorf("unexpected last page: %+v", page.Runs)
	}
}

func TestListRuns_Empty(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	page, err := storage.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 || page.Runs == nil || len(page.Runs) != 0 {
		t.Errorf("expected empty non-nil page, got %+v", page)
	}
}

func TestUpdateRunMetadata(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := storage.CreateRun(ctx, newTestRun("meta", time.Now())); err != nil {
		t.Fatal(err)
	}

	label := "baseline"
	if err := storage.UpdateRunMetadata(ctx, "meta", &RunMetadataUpdate{Label: &label}); err != nil {
		t.Fatalf("UpdateRunMetadata failed: %v", err)
	}
	got, _ := storage.GetRun(ctx, "meta")
	if got.Label == nil || *got.Label != "baseline" {
		t.Errorf("Label = %v, want baseline", got.Label)
	}
	if got.Favorite {
		t.Error("Favorite changed without being requested")
	}

	favorite := true
	if err := storage.UpdateRunMetadata(ctx, "meta", &RunMetadataUpdate{Favorite: &favorite}); err != nil {
		t.Fatal(err)
	}
	got, _ = storage.GetRun(ctx, "meta")
	if !got.Favorite {
		t.Error("expected run to be favorited")
	}
	if got.Label == nil || *got.Label != "baseline" {
		t.Error("label lost on favorite update")
	}

	empty := ""
	if err := storage.UpdateRunMetadata(ctx, "meta", &RunMetadataUpdate{Label: &empty}); err != nil {
		t.Fatal(err)
	}
	got, _ = storage.GetRun(ctx, "meta")
	if got.Label != nil {
		t.Errorf("expected cleared label, got %q", *got.Label)
	}
}

func TestUpdateRunMetadata_NotFound(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	label := "x"
	err := storage.UpdateRunMetadata(context.Background(), "missing", &RunMetadataUpdate{Label: &label})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRunMetadata_NoUpdate(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	if err := storage.UpdateRunMetadata(context.Background(), "missing", &RunMetadataUpdate{}); err != nil {
		t.Errorf("empty update should be a no-op, got %v", err)
	}
}

func TestFavoritesSortFirst(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := storage.CreateRun(ctx, newTestRun("older", time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := storage.CreateRun(ctx, newTestRun("newer", time.Now())); err != nil {
		t.Fatal(err)
	}

	favorite := true
	if err := storage.UpdateRunMetadata(ctx, "older", &RunMetadataUpdate{Favorite: &favorite}); err != nil {
		t.Fatal(err)
	}

	page, err := storage.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Runs) != 2 || page.Runs[0].ID != "older" {
		t.Errorf("expected favorited 'older' first, got %+v", page.Runs)
	}
}

func sampleOutcomes() []OutcomeRecord {
	from, nonce := uint32(1), uint32(7)
	ts := time.Now().UTC().Truncate(time.Millisecond)
	return []OutcomeRecord{
		{
			Seq: 1, Tick: 0, Kind: "deposit", To: 2, Amount: "100", Token: "RBTC",
			Accepted: true, TxHash: "0xaaa", Attempts: 1, LatencyMs: 3, Timestamp: ts,
		},
		{
			Seq: 2, Tick: 0, Kind: "transfer", From: &from, To: 0, Amount: "18446744073709551615",
			Nonce: &nonce, Token: "RBTC", Accepted: false, ErrorKind: "OperationTimeout",
			Message: "operation timeout", Attempts: 4, LatencyMs: 120, Timestamp: ts,
		},
		{
			Seq: 3, Tick: 1, Batch: 3, Kind: "deposit", To: 4, Amount: "5", Token: "RBTC",
			Accepted: true, TxHash: "0xccc", Attempts: 1, Fee: "21000", LatencyMs: 9, Timestamp: ts,
		},
	}
}

func TestBulkInsertAndGetOutcomes(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := storage.CreateRun(ctx, newTestRun("run-outcomes", time.Now())); err != nil {
		t.Fatal(err)
	}

	want := sampleOutcomes()
	if err := storage.BulkInsertOutcomes(ctx, "run-outcomes", want); err != nil {
		t.Fatalf("BulkInsertOutcomes failed: %v", err)
	}

	page, err := storage.GetOutcomes(ctx, "run-outcomes", 10, 0)
	if err != nil {
		t.Fatalf("GetOutcomes failed: %v", err)
	}
	if page.Total != 3 || len(page.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got total=%d len=%d", page.Total, len(page.Outcomes))
	}

	dep := page.Outcomes[0]
	if dep.Seq != 1 || dep.Kind != "deposit" || dep.From != nil || dep.Nonce != nil {
		t.Errorf("unexpected deposit record: %+v", dep)
	}
	if !dep.Accepted || dep.TxHash != "0xaaa" || dep.ErrorKind != "" {
		t.Errorf("unexpected deposit result: %+v", dep)
	}
	if !dep.Timestamp.Equal(want[0].Timestamp) {
		t.Errorf("Timestamp = %v, want %v", dep.Timestamp, want[0].Timestamp)
	}

	tr := page.Outcomes[1]
	if tr.From == nil || *tr.From != 1 || tr.Nonce == nil || *tr.Nonce != 7 {
		t.Errorf("unexpected transfer record: %+v", tr)
	}
	if tr.Amount != "18446744073709551615" {
		t.Errorf("Amount = %s, want max uint64", tr.Amount)
	}
	if tr.Accepted || tr.ErrorKind != "OperationTimeout" || tr.Attempts != 4 || tr.TxHash != "" {
		t.Errorf("unexpected transfer result: %+v", tr)
	}

	if b := page.Outcomes[2]; b.Batch != 3 || b.Fee != "21000" {
		t.Errorf("unexpected batch record: %+v", b)
	}

	page, err = storage.GetOutcomes(ctx, "run-outcomes", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Outcomes) != 1 || page.Outcomes[0].Seq != 2 {
		t.Errorf("unexpected paged outcome: %+v", page.Outcomes)
	}
}

func TestBulkInsertOutcomes_Empty(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	if err := storage.BulkInsertOutcomes(context.Background(), "any", nil); err != nil {
		t.Errorf("empty insert should succeed, got %v", err)
	}
}

func TestBulkInsertOutcomes_UnknownRun(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	// Foreign keys are enforced and the whole insert is rolled back.
	if err := storage.BulkInsertOutcomes(context.Background(), "missing", sampleOutcomes()); err == nil {
		t.Fatal("expected foreign key violation")
	}
	page, err := storage.GetOutcomes(context.Background(), "missing", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("expected rollback, found %d outcomes", page.Total)
	}
}

func TestGetOutcomeByHash(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := storage.CreateRun(ctx, newTestRun("run-hash", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := storage.BulkInsertOutcomes(ctx, "run-hash", sampleOutcomes()); err != nil {
		t.Fatal(err)
	}

	got, err := storage.GetOutcomeByHash(ctx, "0xccc")
	if err != nil {
		t.Fatalf("GetOutcomeByHash failed: %v", err)
	}
	if got == nil || got.Seq != 3 {
		t.Fatalf("expected seq 3, got %+v", got)
	}

	got, err = storage.GetOutcomeByHash(ctx, "0xnotfound")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown hash, got %+v", got)
	}
}

func TestColumnExists(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	if !storage.columnExists("runs", "id") {
		t.Error("expected 'id' column to exist in runs")
	}
	if !storage.columnExists("runs", "favorite") {
		t.Error("expected migrated 'favorite' column to exist")
	}
	if storage.columnExists("runs", "nonexistent_column") {
		t.Error("expected 'nonexistent_column' to not exist")
	}
	if storage.columnExists("nonexistent_table", "id") {
		t.Error("expected false for nonexistent table")
	}
	if storage.columnExists("runs'; DROP TABLE runs; --", "id") {
		t.Error("expected invalid identifier to be rejected")
	}
}

func TestCascadeDelete(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := storage.CreateRun(ctx, newTestRun("run-cascade", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := storage.BulkInsertOutcomes(ctx, "run-cascade", sampleOutcomes()); err != nil {
		t.Fatal(err)
	}

	if err := storage.DeleteRun(ctx, "run-cascade"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	if _, err := storage.GetRun(ctx, "run-cascade"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected run to be gone, got %v", err)
	}
	page, err := storage.GetOutcomes(ctx, "run-cascade", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("expected outcomes to be deleted, got %d", page.Total)
	}

	if err := storage.DeleteRun(ctx, "run-cascade"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}
