// Package api exposes collection, export, users and runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/app"
	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/collector"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/sheets"
	"github.com/sells-group/places-cli/internal/store"
	"github.com/sells-group/places-cli/internal/users"
)

// Service is the application surface the API calls. *app.App satisfies it.
type Service interface {
	Collect(ctx context.Context, req app.CollectRequest) (app.CollectResult, error)
	Export(ctx context.Context, req app.ExportRequest) (sheets.ExportResult, error)
	Register(ctx context.Context, userID, email string) (*model.User, bool, error)
	User(ctx context.Context, userID string) (*model.User, error)
	Runs(ctx context.Context, filter store.RunFilter) ([]model.JobRun, error)
	Run(ctx context.Context, id string) (*model.JobRun, []string, error)
}

// NewRouter builds the HTTP handler.
func NewRouter(svc Service) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}", h.getUser)
		r.Post("/users/{userID}/email", h.registerUser)
		r.Post("/collect", h.collect)
		r.Post("/export", h.export)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})
	return r
}

type handler struct {
	svc Service
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.User(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	u, created, err := h.svc.Register(r.Context(), chi.URLParam(r, "userID"), body.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, u)
}

func (h *handler) collect(w http.ResponseWriter, r *http.Request) {
	var req app.CollectRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := req.Request.Normalize(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.Collect(r.Context(), req)
	if err != nil {
		zap.L().Warn("api: export after collect failed", zap.String("task_id", res.TaskID), zap.Error(err))
		writeJSON(w, exportStatus(err), map[string]any{
			"task_id": res.TaskID,
			"status":  res.Status,
			"run_id":  res.RunID,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	var req app.ExportRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("user_id is required"))
		return
	}
	res, err := h.svc.Export(r.Context(), req)
	if err != nil {
		writeJSON(w, exportStatus(err), errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{UserID: q.Get("user")}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, errorBody("invalid "+key))
				return
			}
			*dst = n
		}
	}
	runs, err := h.svc.Runs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.JobRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, ids, err := h.svc.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "place_ids": ids})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrInvalidEmail),
		errors.Is(err, collector.ErrScope),
		errors.Is(err, catalog.ErrUnknownState),
		errors.Is(err, catalog.ErrUnknownTier),
		errors.Is(err, sheets.ErrNoSpreadsheet):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// exportStatus is statusFor with upstream spreadsheet failures as 502.
func exportStatus(err error) int {
	if s := statusFor(err); s != http.StatusInternalServerError {
		return s
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
