package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/places-cli/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = eris.New("store: duplicate key")

// CompanyFilter selects companies for export. Empty fields do not filter.
type CompanyFilter struct {
	Keyword string `json:"keyword,omitempty"`
	State   string `json:"state,omitempty"`
	// AddressContains keeps rows whose address contains the substring.
	AddressContains string `json:"address_contains,omitempty"`
	// AddressAny keeps rows whose address contains at least one of the names.
	// A non-nil empty slice matches nothing.
	AddressAny []string `json:"address_any,omitempty"`
}

// RunFilter specifies criteria for listing job runs.
type RunFilter struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// CompanyTx is the company surface available inside a transaction.
type CompanyTx interface {
	GetCompany(ctx context.Context, placeID string) (*model.Company, error)
	InsertCompany(ctx context.Context, c model.Company) error
	UpdateCompany(ctx context.Context, c model.Company) error
}

// Store defines the persistence interface for companies, users and job runs.
type Store interface {
	// Companies
	WithinTx(ctx context.Context, fn func(tx CompanyTx) error) error
	GetCompany(ctx context.Context, placeID string) (*model.Company, error)
	ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error)

	// Users
	GetUser(ctx context.Context, userID string) (*model.User, error)
	CreateUser(ctx context.Context, u model.User) error
	UpdateUserEmail(ctx context.Context, userID, email string) error

	// Job runs
	CreateJobRun(ctx context.Context, run model.JobRun) error
	FinishJobRun(ctx context.Context, runID string, at time.Time) (bool, error)
	GetJobRun(ctx context.Context, runID string) (*model.JobRun, error)
	ListJobRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error)
	LinkCompany(ctx context.Context, runID, placeID string, at time.Time) (bool, error)
	RunCompanies(ctx context.Context, runID string) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Migrator exposes schema operations beyond Migrate.
type Migrator interface {
	MigrateDown(ctx context.Context) error
	MigrationVersion(ctx context.Context) (version uint, dirty bool, err error)
}

// Opener acquires a fresh store session. Callers own the returned Store and
// must Close it.
type Opener func(ctx context.Context) (Store, error)

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
