package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var companyCols = []string{"place_id", "name", "address", "phone", "website", "rating", "lat", "lng", "keyword", "state", "fetched_at", "updated_at"}

func TestPostgresStore_GetCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT place_id, name, address, .* FROM companies WHERE place_id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCompany(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompany_WithMarker(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	fetched := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	phone := "+1 555"
	rating := 4.2
	mock.ExpectQuery(`FROM companies WHERE place_id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(companyCols).AddRow(
			"p1", (*string)(nil), (*string)(nil), &phone, (*string)(nil), &rating, 1.0, 2.0, "plumber", "TX", fetched,
			[]byte(`{"changed_fields":[1,3],"at":"2025-02-01T00:00:00Z"}`),
		))

	c, err := s.GetCompany(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "+1 555", model.Deref(c.Phone))
	assert.Nil(t, c.Name)
	require.NotNil(t, c.UpdatedAt)
	assert.Equal(t, []model.FieldTag{model.FieldPhone, model.FieldRating}, c.UpdatedAt.Fields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithinTx_CommitsInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	fetched := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO companies`).
		WithArgs("p1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			1.0, 2.0, "plumber", "TX", fetched, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx CompanyTx) error {
		return tx.InsertCompany(context.Background(), model.Company{
			PlaceID: "p1", Lat: 1, Lng: 2, Keyword: "plumber", State: "TX", FetchedAt: fetched,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCompany_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO companies`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"companies_pkey\""})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx CompanyTx) error {
		return tx.InsertCompany(context.Background(), model.Company{PlaceID: "p1"})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithinTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE companies SET phone = \$1`).
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx CompanyTx) error {
		return tx.UpdateCompany(context.Background(), model.Company{PlaceID: "p1"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update company p1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCompany_Marker(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE companies SET phone = \$1, website = \$2, rating = \$3, updated_at = \$4 WHERE place_id = \$5`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			`{"changed_fields":[2],"at":"2025-02-01T00:00:00Z"}`, "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx CompanyTx) error {
		return tx.UpdateCompany(context.Background(), model.Company{
			PlaceID:   "p1",
			Website:   model.String("b.com"),
			UpdatedAt: &model.ChangeMarker{Fields: []model.FieldTag{model.FieldWebsite}, At: at},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompanies_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE keyword = \$1 AND state = \$2 AND \(strpos\(lower\(address\), lower\(\$3\)\) > 0 OR strpos\(lower\(address\), lower\(\$4\)\) > 0\) ORDER BY fetched_at, place_id`).
		WithArgs("plumber", "TX", "Houston", "Dallas").
		WillReturnRows(pgxmock.NewRows(companyCols))

	got, err := s.ListCompanies(context.Background(), CompanyFilter{
		Keyword: "plumber", State: "TX", AddressAny: []string{"Houston", "Dallas"},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompanies_EmptyAnySkipsQuery(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	got, err := s.ListCompanies(context.Background(), CompanyFilter{AddressAny: []string{}})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sheet := "sheet-1"

	mock.ExpectQuery(`SELECT user_id, email, created_at, spreadsheet_id FROM users WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "email", "created_at", "spreadsheet_id"}).
			AddRow("u1", "a@b.co", created, &sheet))

	u, err := s.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", u.Email)
	assert.Equal(t, "sheet-1", model.Deref(u.SpreadsheetID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateUserEmail_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE users SET email = \$1 WHERE user_id = \$2`).
		WithArgs("x@y.z", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateUserEmail(context.Background(), "ghost", "x@y.z")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkCompany(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT INTO job_run_companies .* ON CONFLICT \(job_run_id, place_id\) DO NOTHING`).
		WithArgs("run-1", "p1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO job_run_companies`).
		WithArgs("run-1", "p1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.LinkCompany(context.Background(), "run-1", "p1", at)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.LinkCompany(context.Background(), "run-1", "p1", at)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJobRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE job_runs SET finished_at = \$1 WHERE id = \$2 AND finished_at IS NULL`).
		WithArgs(at, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.FinishJobRun(context.Background(), "run-1", at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM job_runs r WHERE true AND r.user_id = \$1 ORDER BY r.started_at DESC LIMIT \$2`).
		WithArgs("u1", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "params", "started_at", "finished_at", "count"}).
			AddRow("run-1", "u1", []byte(`{"keyword":"plumber","state":"TX","city_type":"all"}`), started, (*time.Time)(nil), 3))

	runs, err := s.ListJobRuns(context.Background(), RunFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "plumber", runs[0].Params.Keyword)
	assert.Equal(t, 3, runs[0].Companies)
	assert.Nil(t, runs[0].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT place_id FROM job_run_companies WHERE job_run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"place_id"}).AddRow("p1").AddRow("p2"))

	ids, err := s.RunCompanies(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db", pgx5URL("postgres://u:p@h:5432/db"))
	assert.Equal(t, "pgx5://h/db", pgx5URL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", pgx5URL("pgx5://h/db"))
}
