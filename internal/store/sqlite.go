package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/places-cli/internal/model"
)

// sqliteTimeLayout is fixed-width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is pinned to one connection so per-connection pragmas hold and
// writers never contend for the file lock.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(_ context.Context) error {
	m, err := sqliteMigrator(s.db)
	if err != nil {
		return err
	}
	return eris.Wrap(ignoreNoChange(m.Up()), "sqlite: migrate up")
}

func (s *SQLiteStore) MigrateDown(_ context.Context) error {
	m, err := sqliteMigrator(s.db)
	if err != nil {
		return err
	}
	return eris.Wrap(ignoreNoChange(m.Down()), "sqlite: migrate down")
}

func (s *SQLiteStore) MigrationVersion(_ context.Context) (uint, bool, error) {
	m, err := sqliteMigrator(s.db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := version(m)
	return v, dirty, eris.Wrap(err, "sqlite: migration version")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- companies --

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteCompanyTx struct {
	q sqliteExecer
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx CompanyTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := fn(&sqliteCompanyTx{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return eris.Wrapf(err, "sqlite: rollback failed: %v", rbErr)
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, placeID string) (*model.Company, error) {
	return getSQLiteCompany(ctx, s.db, placeID)
}

func (t *sqliteCompanyTx) GetCompany(ctx context.Context, placeID string) (*model.Company, error) {
	return getSQLiteCompany(ctx, t.q, placeID)
}

func getSQLiteCompany(ctx context.Context, q sqliteExecer, placeID string) (*model.Company, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE place_id = ?`, placeID)
	c, err := scanSQLiteCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %s", placeID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", placeID)
	}
	return c, nil
}

func (t *sqliteCompanyTx) InsertCompany(ctx context.Context, c model.Company) error {
	marker, err := c.UpdatedAt.Value()
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO companies (`+companyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PlaceID, c.Name, c.Address, c.Phone, c.Website, c.Rating, c.Lat, c.Lng,
		c.Keyword, c.State, formatSQLiteTime(c.FetchedAt), marker,
	)
	if isSQLiteDuplicate(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: insert company %s", c.PlaceID)
	}
	return eris.Wrapf(err, "sqlite: insert company %s", c.PlaceID)
}

func isSQLiteDuplicate(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

func (t *sqliteCompanyTx) UpdateCompany(ctx context.Context, c model.Company) error {
	marker, err := c.UpdatedAt.Value()
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE companies SET phone = ?, website = ?, rating = ?, updated_at = ? WHERE place_id = ?`,
		c.Phone, c.Website, c.Rating, marker, c.PlaceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update company %s", c.PlaceID)
	}
	return checkRowsAffected(res, "company", c.PlaceID)
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error) {
	query, args, ok := companyListQuery(filter, sqliteBind, sqliteContains)
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Company
	for rows.Next() {
		c, err := scanSQLiteCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

// -- users --

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var (
		u         model.User
		createdAt string
		sheet     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, created_at, spreadsheet_id FROM users WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.Email, &createdAt, &sheet)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get user %s", userID)
	}
	if u.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if sheet.Valid {
		u.SpreadsheetID = &sheet.String
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, created_at, spreadsheet_id) VALUES (?, ?, ?, ?)`,
		u.UserID, u.Email, formatSQLiteTime(u.CreatedAt), u.SpreadsheetID,
	)
	return eris.Wrapf(err, "sqlite: insert user %s", u.UserID)
}

func (s *SQLiteStore) UpdateUserEmail(ctx context.Context, userID, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email = ? WHERE user_id = ?`, email, userID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update user email %s", userID)
	}
	return checkRowsAffected(res, "user", userID)
}

// -- job runs --

func (s *SQLiteStore) CreateJobRun(ctx context.Context, run model.JobRun) error {
	params, err := model.MarshalParams(run.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, user_id, params, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.UserID, string(params), formatSQLiteTime(run.StartedAt),
	)
	return eris.Wrapf(err, "sqlite: insert job run %s", run.ID)
}

func (s *SQLiteStore) FinishJobRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET finished_at = ? WHERE id = ? AND finished_at IS NULL`,
		formatSQLiteTime(at), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish job run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

const sqliteJobRunSelect = `SELECT r.id, r.user_id, r.params, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM job_run_companies l WHERE l.job_run_id = r.id)
	FROM job_runs r`

func (s *SQLiteStore) GetJobRun(ctx context.Context, runID string) (*model.JobRun, error) {
	row := s.db.QueryRowContext(ctx, sqliteJobRunSelect+` WHERE r.id = ?`, runID)
	run, err := scanSQLiteJobRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListJobRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error) {
	query := sqliteJobRunSelect + ` WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND r.user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY r.started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.JobRun
	for rows.Next() {
		r, err := scanSQLiteJobRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list job runs iterate")
}

func (s *SQLiteStore) LinkCompany(ctx context.Context, runID, placeID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_run_companies (job_run_id, place_id, linked_at)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM job_runs WHERE id = ? AND finished_at IS NULL)
		ON CONFLICT (job_run_id, place_id) DO NOTHING`,
		runID, placeID, formatSQLiteTime(at), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: link company %s to run %s", placeID, runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RunCompanies(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT place_id FROM job_run_companies WHERE job_run_id = ? ORDER BY linked_at, place_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: run companies %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run company")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: run companies iterate")
}

// -- helpers --

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteCompany(row scannable) (*model.Company, error) {
	var (
		c                             model.Company
		name, address, phone, website sql.NullString
		rating                        sql.NullFloat64
		fetchedAt                     string
		updatedAt                     sql.NullString
	)
	if err := row.Scan(&c.PlaceID, &name, &address, &phone, &website, &rating,
		&c.Lat, &c.Lng, &c.Keyword, &c.State, &fetchedAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Name = nullString(name)
	c.Address = nullString(address)
	c.Phone = nullString(phone)
	c.Website = nullString(website)
	if rating.Valid {
		c.Rating = &rating.Float64
	}

	var err error
	if c.FetchedAt, err = parseSQLiteTime(fetchedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		if c.UpdatedAt, err = model.ParseChangeMarker([]byte(updatedAt.String)); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func scanSQLiteJobRun(row scannable) (*model.JobRun, error) {
	var (
		r          model.JobRun
		params     string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &params, &startedAt, &finishedAt, &r.Companies); err != nil {
		return nil, err
	}

	var err error
	if r.Params, err = model.UnmarshalParams([]byte(params)); err != nil {
		return nil, err
	}
	if r.StartedAt, err = parseSQLiteTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseSQLiteTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		r.FinishedAt = &t
	}
	return &r, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		// Rows written by other tools may carry plain RFC3339.
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}
