package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chartlydata/payee-match/internal/errs"
	"github.com/chartlydata/payee-match/internal/match"
	"github.com/chartlydata/payee-match/internal/registry"
)

// payeeRef is the §6 {payee_id, name, external_id} shape embedded in a
// match response.
type payeeRef struct {
	PayeeID    int64  `json:"payee_id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id,omitempty"`
}

// candidateDTO is the wire shape of a scored candidate.
type candidateDTO struct {
	PayeeID     int64              `json:"payee_id"`
	Name        string             `json:"name"`
	ExternalID  string             `json:"external_id,omitempty"`
	Probability float64            `json:"probability"`
	Features    map[string]float64 `json:"features"`
	TopFeatures []contribDTO       `json:"top_features"`
}

type contribDTO struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

type matchResponse struct {
	Decision     string         `json:"decision"`
	Confidence   float64        `json:"confidence"`
	MatchedPayee *payeeRef      `json:"matched_payee"`
	Candidates   []candidateDTO `json:"candidates"`
	Reason       *string        `json:"reason"`
}

func toCandidateDTO(c registry.ScoredCandidate) candidateDTO {
	contribs := make([]contribDTO, 0, len(c.TopFeatures))
	for _, f := range c.TopFeatures {
		contribs = append(contribs, contribDTO{Name: f.Name, Contribution: f.Contribution})
	}
	return candidateDTO{
		PayeeID:     c.PayeeID,
		Name:        c.Payee.NameRaw,
		ExternalID:  c.Payee.ExternalID,
		Probability: c.Probability,
		Features:    c.Features,
		TopFeatures: contribs,
	}
}

func toMatchResponse(r match.Response) matchResponse {
	out := matchResponse{
		Decision:   string(r.Decision),
		Confidence: r.Confidence,
	}
	if r.Reason != "" {
		reason := r.Reason
		out.Reason = &reason
	}
	if r.MatchedPayee != nil {
		out.MatchedPayee = &payeeRef{
			PayeeID:    r.MatchedPayee.PayeeID,
			Name:       r.MatchedPayee.NameRaw,
			ExternalID: r.MatchedPayee.ExternalID,
		}
	}
	out.Candidates = make([]candidateDTO, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out.Candidates = append(out.Candidates, toCandidateDTO(c))
	}
	return out
}

type matchRequest struct {
	Name string `json:"name"`
}

func (api *API) handleMatch(w http.ResponseWriter, req *http.Request) {
	var in matchRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, req.Context(), errs.New(errs.IngestSchemaInvalid, errs.ErrInvalidInput))
		return
	}
	resp, err := api.Pipeline.Match(req.Context(), in.Name)
	if err != nil {
		writeError(w, req.Context(), errs.New(errs.Internal, err))
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(resp))
}

type batchRequest struct {
	Names  []string `json:"names"`
	Stream bool     `json:"stream"`
}

func (api *API) handleMatchBatch(w http.ResponseWriter, req *http.Request) {
	var in batchRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, req.Context(), errs.New(errs.IngestSchemaInvalid, errs.ErrInvalidInput))
		return
	}
	workers := api.BatchWorkers
	if workers <= 0 {
		workers = 8
	}

	if !in.Stream {
		results := api.Pipeline.Batch(req.Context(), in.Names, workers)
		out := make([]map[string]any, len(results))
		for i, r := range results {
			out[i] = withQuery(r.Query, toMatchResponse(r.Response))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	api.Pipeline.StreamBatch(req.Context(), in.Names, workers, func(r match.BatchResult) {
		_ = enc.Encode(withQuery(r.Query, toMatchResponse(r.Response)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	})
}

func withQuery(query string, resp matchResponse) map[string]any {
	return map[string]any{
		"query":         query,
		"decision":      resp.Decision,
		"confidence":    resp.Confidence,
		"matched_payee": resp.MatchedPayee,
		"candidates":    resp.Candidates,
		"reason":        resp.Reason,
	}
}

func (api *API) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	dbStatus := "ok"
	count := 0
	if api.Store != nil {
		n, err := api.Store.Count(req.Context())
		if err != nil {
			dbStatus = "down"
			status = "degraded"
		} else {
			count = n
		}
	} else {
		dbStatus = "unconfigured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"database":  dbStatus,
		"suppliers": count,
	})
}

// ---- review ----

func (api *API) handleReviewOpen(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := api.Review.ListOpenReviewItems(req.Context(), limit)
	if err != nil {
		writeError(w, req.Context(), errs.New(errs.StorageUnavailable, err))
		return
	}
	out := make([]reviewItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toReviewItemDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

type reviewItemDTO struct {
	ID         string         `json:"id"`
	QNameRaw   string         `json:"q_name_raw"`
	QNameCanon string         `json:"q_name_canon"`
	Status     string         `json:"status"`
	Candidates []candidateDTO `json:"candidates"`
}

func toReviewItemDTO(it registry.ReviewItem) reviewItemDTO {
	dto := reviewItemDTO{ID: it.ID, QNameRaw: it.QNameRaw, QNameCanon: it.QNameCanon, Status: string(it.Status)}
	dto.Candidates = make([]candidateDTO, 0, len(it.Candidates))
	for _, c := range it.Candidates {
		dto.Candidates = append(dto.Candidates, toCandidateDTO(c))
	}
	return dto
}

type resolveRequest struct {
	Approved bool   `json:"approved"`
	PayeeID  int64  `json:"payee_id"`
	Notes    string `json:"notes"`
}

func (api *API) handleReviewApprove(w http.ResponseWriter, req *http.Request) {
	api.resolveReview(w, req, true)
}

func (api *API) handleReviewReject(w http.ResponseWriter, req *http.Request) {
	api.resolveReview(w, req, false)
}

// resolveReview transitions the review item named by the route. The
// route (approve/reject) is authoritative; a conflicting body "approved"
// field is ignored.
func (api *API) resolveReview(w http.ResponseWriter, req *http.Request, approved bool) {
	id := mux.Vars(req)["id"]
	var in resolveRequest
	_ = json.NewDecoder(req.Body).Decode(&in)

	if _, found, err := api.Review.GetReviewItem(req.Context(), id); err != nil {
		writeError(w, req.Context(), errs.New(errs.Internal, err))
		return
	} else if !found {
		writeError(w, req.Context(), errs.New(errs.ReviewNotFound, errs.ErrNotFound))
		return
	}

	result, err := api.Review.Resolve(req.Context(), id, approved, in.PayeeID, in.Notes)
	if err != nil {
		writeError(w, req.Context(), errs.New(errs.ReviewAlreadyResolved, err))
		return
	}
	writeJSON(w, http.StatusOK, toReviewItemDTO(result))
}
