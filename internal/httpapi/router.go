// Package httpapi implements the HTTP surface pinned by §6: bit-stable
// request/response shapes over the match/decision pipeline, review queue
// and ingestion. Routing uses gorilla/mux, adapted from the teacher's
// services/gateway/api/router.go middleware-wrapper pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/chartlydata/payee-match/internal/errs"
	"github.com/chartlydata/payee-match/internal/match"
	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

// API wires handlers against a Pipeline, a ReviewStore and a Store for
// ingestion.
type API struct {
	Pipeline    *match.Pipeline
	Review      registry.ReviewStore
	Store       registry.Store
	Log         *telemetry.Logger
	BatchWorkers int
}

// NewRouter builds the gorilla/mux router for every route in §6.
func NewRouter(api *API) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, recoverer(api.Log))

	r.HandleFunc("/health", api.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/match", api.handleMatch).Methods(http.MethodPost)
	r.HandleFunc("/v1/match/batch", api.handleMatchBatch).Methods(http.MethodPost)
	r.HandleFunc("/v1/payees/ingest", api.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/v1/payees/ingest/csv", api.handleIngestCSV).Methods(http.MethodPost)
	r.HandleFunc("/v1/review/open", api.handleReviewOpen).Methods(http.MethodGet)
	r.HandleFunc("/v1/review/{id}/approve", api.handleReviewApprove).Methods(http.MethodPost)
	r.HandleFunc("/v1/review/{id}/reject", api.handleReviewReject).Methods(http.MethodPost)
	return r
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := telemetry.WithRequestID(req.Context(), id)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func recoverer(log *telemetry.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if log != nil {
						log.Error(req.Context(), "panic recovered", map[string]any{"panic": rec})
					}
					writeError(w, req.Context(), errs.New(errs.Internal, errs.ErrInvalidInput))
				}
			}()
			next.ServeHTTP(w, req)
		})
	}
}

// errorBody is the §6 structured error body shape.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, _ context.Context, err error) {
	status := errs.HTTPStatus(err)
	var body errorBody
	body.Error.Code = "internal"
	var ce *errs.CodedError
	if errors.As(err, &ce) {
		body.Error.Code = string(ce.Code)
	}
	body.Error.Message = err.Error()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
