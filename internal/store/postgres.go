package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/places-cli/internal/db"
	"github.com/sells-group/places-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	connStr string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, connStr: connString, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(_ context.Context) error {
	m, err := postgresMigrator(s.connStr)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck
	return eris.Wrap(ignoreNoChange(m.Up()), "postgres: migrate up")
}

func (s *PostgresStore) MigrateDown(_ context.Context) error {
	m, err := postgresMigrator(s.connStr)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck
	return eris.Wrap(ignoreNoChange(m.Down()), "postgres: migrate down")
}

func (s *PostgresStore) MigrationVersion(_ context.Context) (uint, bool, error) {
	m, err := postgresMigrator(s.connStr)
	if err != nil {
		return 0, false, err
	}
	defer m.Close() //nolint:errcheck
	v, dirty, err := version(m)
	return v, dirty, eris.Wrap(err, "postgres: migration version")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- companies --

type pgCompanyTx struct {
	q db.Querier
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx CompanyTx) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgCompanyTx{q: tx})
	})
}

func (s *PostgresStore) GetCompany(ctx context.Context, placeID string) (*model.Company, error) {
	return getPgCompany(ctx, s.pool, placeID)
}

func (t *pgCompanyTx) GetCompany(ctx context.Context, placeID string) (*model.Company, error) {
	return getPgCompany(ctx, t.q, placeID)
}

func getPgCompany(ctx context.Context, q db.Querier, placeID string) (*model.Company, error) {
	row := q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE place_id = $1`, placeID)
	c, err := scanPgCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %s", placeID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", placeID)
	}
	return c, nil
}

func (t *pgCompanyTx) InsertCompany(ctx context.Context, c model.Company) error {
	marker, err := c.UpdatedAt.Value()
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO companies (`+companyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.PlaceID, c.Name, c.Address, c.Phone, c.Website, c.Rating, c.Lat, c.Lng,
		c.Keyword, c.State, c.FetchedAt.UTC(), marker,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrapf(ErrDuplicate, "postgres: insert company %s", c.PlaceID)
	}
	return eris.Wrapf(err, "postgres: insert company %s", c.PlaceID)
}

func (t *pgCompanyTx) UpdateCompany(ctx context.Context, c model.Company) error {
	marker, err := c.UpdatedAt.Value()
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE companies SET phone = $1, website = $2, rating = $3, updated_at = $4 WHERE place_id = $5`,
		c.Phone, c.Website, c.Rating, marker, c.PlaceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company %s", c.PlaceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "company %s", c.PlaceID)
	}
	return nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error) {
	query, args, ok := companyListQuery(filter, postgresBind, postgresContains)
	if !ok {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanPgCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

// -- users --

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email, created_at, spreadsheet_id FROM users WHERE user_id = $1`, userID,
	).Scan(&u.UserID, &u.Email, &u.CreatedAt, &u.SpreadsheetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get user %s", userID)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, email, created_at, spreadsheet_id) VALUES ($1, $2, $3, $4)`,
		u.UserID, u.Email, u.CreatedAt.UTC(), u.SpreadsheetID,
	)
	return eris.Wrapf(err, "postgres: insert user %s", u.UserID)
}

func (s *PostgresStore) UpdateUserEmail(ctx context.Context, userID, email string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET email = $1 WHERE user_id = $2`, email, userID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update user email %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "user %s", userID)
	}
	return nil
}

// -- job runs --

func (s *PostgresStore) CreateJobRun(ctx context.Context, run model.JobRun) error {
	params, err := model.MarshalParams(run.Params)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, user_id, params, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.UserID, params, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert job run %s", run.ID)
}

func (s *PostgresStore) FinishJobRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET finished_at = $1 WHERE id = $2 AND finished_at IS NULL`,
		at.UTC(), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish job run %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

const pgJobRunSelect = `SELECT r.id, r.user_id, r.params, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM job_run_companies l WHERE l.job_run_id = r.id)
	FROM job_runs r`

func (s *PostgresStore) GetJobRun(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := scanPgJobRun(s.pool.QueryRow(ctx, pgJobRunSelect+` WHERE r.id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error) {
	query := pgJobRunSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND r.user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY r.started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		r, err := scanPgJobRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list job runs iterate")
}

func (s *PostgresStore) LinkCompany(ctx context.Context, runID, placeID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_run_companies (job_run_id, place_id, linked_at)
		SELECT $1::text, $2::text, $3::timestamptz WHERE EXISTS (SELECT 1 FROM job_runs WHERE id = $1 AND finished_at IS NULL)
		ON CONFLICT (job_run_id, place_id) DO NOTHING`,
		runID, placeID, at.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: link company %s to run %s", placeID, runID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RunCompanies(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT place_id FROM job_run_companies WHERE job_run_id = $1 ORDER BY linked_at, place_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: run companies %s", runID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrapf(err, "postgres: collect run companies %s", runID)
}

// -- helpers --

func scanPgCompany(row pgx.Row) (*model.Company, error) {
	var (
		c         model.Company
		updatedAt []byte
	)
	if err := row.Scan(&c.PlaceID, &c.Name, &c.Address, &c.Phone, &c.Website, &c.Rating,
		&c.Lat, &c.Lng, &c.Keyword, &c.State, &c.FetchedAt, &updatedAt); err != nil {
		return nil, err
	}
	marker, err := model.ParseChangeMarker(updatedAt)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt = marker
	c.FetchedAt = c.FetchedAt.UTC()
	return &c, nil
}

func scanPgJobRun(row pgx.Row) (*model.JobRun, error) {
	var (
		r      model.JobRun
		params []byte
	)
	if err := row.Scan(&r.ID, &r.UserID, &params, &r.StartedAt, &r.FinishedAt, &r.Companies); err != nil {
		return nil, err
	}
	p, err := model.UnmarshalParams(params)
	if err != nil {
		return nil, err
	}
	r.Params = p
	return &r, nil
}
