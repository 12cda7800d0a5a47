package storage

import "context"

// Storage defines the persistence interface for simulation history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error
	UpdateRunMetadata(ctx context.Context, id string, update *RunMetadataUpdate) error

	// Outcomes are written once, after the run finishes
	BulkInsertOutcomes(ctx context.Context, runID string, outcomes []OutcomeRecord) error
	GetOutcomes(ctx context.Context, runID string, limit, offset int) (*PaginatedOutcomes, error)
	GetOutcomeByHash(ctx context.Context, txHash string) (*OutcomeRecord, error)

	Close() error
}

// CacheStorage remembers account nonces between runs, scoped by network so
// the same addresses on different networks never collide.
type CacheStorage interface {
	SaveCachedAccounts(ctx context.Context, accounts []CachedAccount) error
	LoadCachedAccounts(ctx context.Context, network string) ([]CachedAccount, error)
	DeleteCachedAccounts(ctx context.Context, network string) error
}
