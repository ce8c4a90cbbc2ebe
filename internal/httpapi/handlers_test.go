package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chartlydata/payee-match/internal/canon"
	"github.com/chartlydata/payee-match/internal/decision"
	"github.com/chartlydata/payee-match/internal/embedding"
	"github.com/chartlydata/payee-match/internal/idf"
	"github.com/chartlydata/payee-match/internal/match"
	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/review"
	"github.com/chartlydata/payee-match/internal/scoring"
	"github.com/chartlydata/payee-match/internal/store/memtest"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

func newTestAPI(t *testing.T) (*API, *memtest.Store, *memtest.ReviewStore) {
	t.Helper()
	store := memtest.New()
	reviewStore := memtest.NewReviewStore()
	embedCache, err := embedding.NewCache(64, memtest.NewEmbeddingCache(), nil)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	embedProv := embedding.NewLocalProvider(16)
	log := telemetry.NewDefault(io.Discard, "payee-match-test")

	names := []string{"Microsoft Corporation", "Apple Inc"}
	var docs [][]string
	for _, n := range names {
		c := canon.Canonicalize(n)
		vec, err := embedCache.Embed(context.Background(), embedProv, c.Canon)
		if err != nil {
			t.Fatalf("Embed() error: %v", err)
		}
		if _, err := store.Upsert(context.Background(), registry.Payee{
			NameRaw: n, NameCanon: c.Canon, NameTokens: c.Tokens, DMCodes: c.DMCodes, NameVec: vec,
		}); err != nil {
			t.Fatalf("Upsert() error: %v", err)
		}
		docs = append(docs, c.Tokens)
	}

	pipeline := &match.Pipeline{
		Store:        store,
		Embedder:     embedCache,
		EmbedProv:    embedProv,
		IDF:          idf.Build(docs),
		Scorer:       scoring.NewHeuristic(),
		Thresholds:   decision.DefaultThresholds(),
		Review:       review.NewService(reviewStore, nil),
		Log:          log,
		TopKTrigram:  50,
		TopKVector:   50,
		TopKPhonetic: 50,
		KUnion:       120,
	}

	api := &API{Pipeline: pipeline, Review: reviewStore, Store: store, Log: log, BatchWorkers: 4}
	return api, store, reviewStore
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReportsCount(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if n, ok := body["suppliers"].(float64); !ok || n != 2 {
		t.Errorf("suppliers = %v, want 2", body["suppliers"])
	}
}

func TestHandleMatchExactNameAutoMatches(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/match", matchRequest{Name: "Microsoft Corp"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp matchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Decision != string(decision.AutoMatch) {
		t.Errorf("Decision = %q, want auto_match", resp.Decision)
	}
	if resp.MatchedPayee == nil || resp.MatchedPayee.Name != "Microsoft Corporation" {
		t.Errorf("MatchedPayee = %+v, want Microsoft Corporation", resp.MatchedPayee)
	}
}

func TestHandleMatchEmptyNameIsNoMatch(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/match", matchRequest{Name: "   "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (a well-formed no-match is not an HTTP error)", rec.Code)
	}
	var resp matchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Decision != string(decision.NoMatch) {
		t.Errorf("Decision = %q, want no_match", resp.Decision)
	}
}

func TestHandleMatchMalformedBodyIsBadRequest(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	req := httptest.NewRequest(http.MethodPost, "/v1/match", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMatchBatchArrayPreservesOrder(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/match/batch", batchRequest{
		Names: []string{"Apple Inc", "Microsoft Corp"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0]["query"] != "Apple Inc" || out[1]["query"] != "Microsoft Corp" {
		t.Errorf("batch results out of order: %v", out)
	}
}

func TestHandleMatchBatchStreamEmitsNDJSON(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/match/batch", batchRequest{
		Names:  []string{"Apple Inc", "Microsoft Corp"},
		Stream: true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q, want application/x-ndjson", ct)
	}
	dec := json.NewDecoder(rec.Body)
	count := 0
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode NDJSON line %d: %v", count, err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("got %d NDJSON lines, want 2", count)
	}
}

func TestHandleIngestJSONInsertsNewPayee(t *testing.T) {
	api, store, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/payees/ingest", ingestRequest{
		Payees: []ingestRow{{Name: "FedEx Corporation", City: "Memphis"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Inserted != 1 || !resp.Success {
		t.Errorf("ingestResponse = %+v, want 1 inserted, success", resp)
	}
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 3 {
		t.Errorf("store Count() = %d, want 3 (2 seeded + 1 ingested)", n)
	}
}

func TestHandleIngestJSONRowErrorIsIsolated(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/payees/ingest", ingestRequest{
		Payees: []ingestRow{
			{Name: ""},
			{Name: "Valid Supplier Inc"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", resp.Inserted)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(resp.Errors))
	}
	if resp.Success {
		t.Error("Success = true, want false (one row failed)")
	}
}

func TestHandleIngestCSVAcceptsAlternateColumnNames(t *testing.T) {
	api, store, _ := newTestAPI(t)
	router := NewRouter(api)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "payees.csv")
	if err != nil {
		t.Fatalf("CreateFormFile() error: %v", err)
	}
	if _, err := fw.Write([]byte("supplier_name,zip\nAcme Holdings LLC,94105\n")); err != nil {
		t.Fatalf("write CSV body: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/payees/ingest/csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Inserted != 1 {
		t.Fatalf("Inserted = %d, want 1", resp.Inserted)
	}
	payees, err := store.GetByIDs(context.Background(), []int64{3})
	if err != nil || len(payees) != 1 {
		t.Fatalf("GetByIDs(3) = %v, %v", payees, err)
	}
	if payees[0].Zip != "94105" {
		t.Errorf("Zip = %q, want 94105 (from the 'zip' column alias)", payees[0].Zip)
	}
}

func TestHandleReviewOpenListsEscalatedItems(t *testing.T) {
	api, _, reviewStore := newTestAPI(t)
	_, err := reviewStore.CreateReviewItem(context.Background(), registry.ReviewItem{
		ID: "r1", QNameRaw: "Microsft", QNameCanon: "microsoft", Status: registry.ReviewOpen,
	})
	if err != nil {
		t.Fatalf("CreateReviewItem() error: %v", err)
	}
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodGet, "/v1/review/open", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var items []reviewItemDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(items) != 1 || items[0].ID != "r1" {
		t.Errorf("items = %+v, want a single item r1", items)
	}
}

func TestHandleReviewApproveResolvesItem(t *testing.T) {
	api, _, reviewStore := newTestAPI(t)
	if _, err := reviewStore.CreateReviewItem(context.Background(), registry.ReviewItem{
		ID: "r2", QNameRaw: "Microsft", QNameCanon: "microsoft", Status: registry.ReviewOpen,
	}); err != nil {
		t.Fatalf("CreateReviewItem() error: %v", err)
	}
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/review/r2/approve", resolveRequest{PayeeID: 1, Notes: "confirmed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var item reviewItemDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if item.Status != string(registry.ReviewApproved) {
		t.Errorf("Status = %q, want approved", item.Status)
	}
	if len(reviewStore.Labels()) != 1 {
		t.Errorf("expected a persisted label after approval, got %d", len(reviewStore.Labels()))
	}
}

func TestHandleReviewRejectDoesNotApprove(t *testing.T) {
	api, _, reviewStore := newTestAPI(t)
	if _, err := reviewStore.CreateReviewItem(context.Background(), registry.ReviewItem{
		ID: "r3", QNameRaw: "q", QNameCanon: "q", Status: registry.ReviewOpen,
	}); err != nil {
		t.Fatalf("CreateReviewItem() error: %v", err)
	}
	router := NewRouter(api)
	// A conflicting body "approved": true must be ignored; the route wins.
	rec := doJSON(t, router, http.MethodPost, "/v1/review/r3/reject", map[string]any{"approved": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var item reviewItemDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if item.Status != string(registry.ReviewRejected) {
		t.Errorf("Status = %q, want rejected (route is authoritative over body)", item.Status)
	}
}

func TestHandleReviewApproveUnknownIDIsNotFound(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodPost, "/v1/review/does-not-exist/approve", resolveRequest{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleReviewApproveTwiceIsConflict(t *testing.T) {
	api, _, reviewStore := newTestAPI(t)
	if _, err := reviewStore.CreateReviewItem(context.Background(), registry.ReviewItem{
		ID: "r4", QNameRaw: "q", QNameCanon: "q", Status: registry.ReviewOpen,
	}); err != nil {
		t.Fatalf("CreateReviewItem() error: %v", err)
	}
	router := NewRouter(api)
	first := doJSON(t, router, http.MethodPost, "/v1/review/r4/approve", resolveRequest{PayeeID: 1})
	if first.Code != http.StatusOK {
		t.Fatalf("first approve status = %d, want 200", first.Code)
	}
	second := doJSON(t, router, http.MethodPost, "/v1/review/r4/approve", resolveRequest{PayeeID: 1})
	if second.Code != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", second.Code)
	}
}

func TestRequestIDMiddlewarePreservesSuppliedHeader(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Errorf("X-Request-ID = %q, want caller-supplied-id", got)
	}
}

func TestRequestIDMiddlewareGeneratesWhenMissing(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := NewRouter(api)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}
}
