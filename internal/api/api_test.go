package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-cli/internal/app"
	"github.com/sells-group/places-cli/internal/collector"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/sheets"
	"github.com/sells-group/places-cli/internal/store"
	"github.com/sells-group/places-cli/internal/users"
)

type fakeService struct {
	collectReq  app.CollectRequest
	collectRes  app.CollectResult
	collectErr  error
	exportReq   app.ExportRequest
	exportErr   error
	registered  bool
	registerErr error
	user        *model.User
	runFilter   store.RunFilter
	runs        []model.JobRun
	err         error
}

func (f *fakeService) Collect(_ context.Context, req app.CollectRequest) (app.CollectResult, error) {
	f.collectReq = req
	return f.collectRes, f.collectErr
}

func (f *fakeService) Export(_ context.Context, req app.ExportRequest) (sheets.ExportResult, error) {
	f.exportReq = req
	return sheets.ExportResult{SpreadsheetID: "s1", Rows: 3}, f.exportErr
}

func (f *fakeService) Register(_ context.Context, userID, email string) (*model.User, bool, error) {
	if f.registerErr != nil {
		return nil, false, f.registerErr
	}
	return &model.User{UserID: userID, Email: email}, f.registered, nil
}

func (f *fakeService) User(context.Context, string) (*model.User, error) {
	return f.user, f.err
}

func (f *fakeService) Runs(_ context.Context, filter store.RunFilter) ([]model.JobRun, error) {
	f.runFilter = filter
	return f.runs, f.err
}

func (f *fakeService) Run(_ context.Context, id string) (*model.JobRun, []string, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &model.JobRun{ID: id, Companies: 2}, []string{"p1", "p2"}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	rec := do(t, NewRouter(&fakeService{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/collect", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	NewRouter(&fakeService{}).ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterUser(t *testing.T) {
	svc := &fakeService{registered: true}
	h := NewRouter(svc)

	rec := do(t, h, http.MethodPost, "/v1/users/u1/email", `{"email":"a@b.co"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u1", decodeBody(t, rec)["user_id"])

	svc.registered = false
	rec = do(t, h, http.MethodPost, "/v1/users/u1/email", `{"email":"a@b.co"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.registerErr = eris.Wrap(users.ErrInvalidEmail, "bad")
	rec = do(t, h, http.MethodPost, "/v1/users/u1/email", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/users/u1/email", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUser(t *testing.T) {
	svc := &fakeService{user: &model.User{UserID: "u1", Email: "a@b.co", SpreadsheetID: model.String("s1")}}
	rec := do(t, NewRouter(svc), http.MethodGet, "/v1/users/u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", decodeBody(t, rec)["spreadsheet_id"])

	svc.err = eris.Wrap(store.ErrNotFound, "users: get ghost")
	rec = do(t, NewRouter(svc), http.MethodGet, "/v1/users/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollect(t *testing.T) {
	svc := &fakeService{collectRes: app.CollectResult{TaskID: "t1", Status: "done", RunID: "r1"}}
	rec := do(t, NewRouter(svc), http.MethodPost, "/v1/collect",
		`{"user_id":"u1","keyword":"plumber","state":"TX","tier":"large","export":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "t1", body["task_id"])
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, "r1", body["run_id"])
	assert.Equal(t, "plumber", svc.collectReq.Keyword)
	assert.Equal(t, "large", string(svc.collectReq.Tier))
	assert.True(t, svc.collectReq.Export)
}

func TestCollect_FailedTaskIsStillOK(t *testing.T) {
	svc := &fakeService{collectRes: app.CollectResult{TaskID: "t1", Status: "failed: State 'ZZ' not found in catalog"}}
	rec := do(t, NewRouter(svc), http.MethodPost, "/v1/collect", `{"user_id":"u1","keyword":"plumber","state":"ZZ"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed: State 'ZZ' not found in catalog", decodeBody(t, rec)["status"])
}

func TestCollect_InvalidRequest(t *testing.T) {
	svc := &fakeService{}
	h := NewRouter(svc)

	for _, body := range []string{
		`{"keyword":"plumber"}`,
		`{"user_id":"u1"}`,
		`{"user_id":"u1","keyword":"k","tier":"huge"}`,
		`{"user_id":"u1","keyword":"k","tier":"manual","state":"TX"}`,
	} {
		rec := do(t, h, http.MethodPost, "/v1/collect", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, svc.collectReq.Keyword, "service not called")
}

func TestCollect_ExportFailure(t *testing.T) {
	svc := &fakeService{
		collectRes: app.CollectResult{TaskID: "t1", Status: "done", RunID: "r1"},
		collectErr: errors.New("sheets: write s1: quota"),
	}
	rec := do(t, NewRouter(svc), http.MethodPost, "/v1/collect", `{"user_id":"u1","keyword":"k","export":true}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "t1", body["task_id"])
	assert.Contains(t, body["error"], "quota")
}

func TestExport(t *testing.T) {
	svc := &fakeService{}
	h := NewRouter(svc)

	rec := do(t, h, http.MethodPost, "/v1/export", `{"user_id":"u1","keyword":"plumber","overwrite":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", decodeBody(t, rec)["spreadsheet_id"])
	assert.True(t, svc.exportReq.Overwrite)

	rec = do(t, h, http.MethodPost, "/v1/export", `{"keyword":"plumber"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.exportErr = eris.Wrap(sheets.ErrNoSpreadsheet, "export")
	rec = do(t, h, http.MethodPost, "/v1/export", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.exportErr = errors.New("googleapi: Error 500")
	rec = do(t, h, http.MethodPost, "/v1/export", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	svc.exportErr = eris.Wrap(store.ErrNotFound, "users: get ghost")
	rec = do(t, h, http.MethodPost, "/v1/export", `{"user_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	svc := &fakeService{runs: []model.JobRun{{ID: "r1", UserID: "u1", StartedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}}
	h := NewRouter(svc)

	rec := do(t, h, http.MethodGet, "/v1/runs?user=u1&limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.RunFilter{UserID: "u1", Limit: 5}, svc.runFilter)

	var runs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = do(t, h, http.MethodGet, "/v1/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.runs = nil
	rec = do(t, h, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetRun(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, NewRouter(svc), http.MethodGet, "/v1/runs/r1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"p1", "p2"}, body["place_ids"])

	svc.err = eris.Wrap(store.ErrNotFound, "store: job run")
	rec = do(t, NewRouter(svc), http.MethodGet, "/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&collector.ScopeError{Reason: "x"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusBadGateway, exportStatus(errors.New("boom")))
}
