// Package errs is the shared error-code registry for the matching pipeline,
// mapping domain sentinel errors to HTTP status, retryability and a human
// description.
package errs

import "sort"

// Code is a stable, API-level error code.
type Code string

// CodeMeta carries HTTP mapping and retry metadata for a Code.
type CodeMeta struct {
	HTTPStatus  int    `json:"http_status"`
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"` // client|server|dependency
	Description string `json:"description"`
}

// ---- canonicalization ----
const (
	CanonEmpty Code = "canon.empty"
)

// ---- embedding ----
const (
	EmbeddingProviderDown Code = "embedding.provider_down"
	EmbeddingCacheError   Code = "embedding.cache_error"
)

// ---- candidates ----
const (
	CandidatesGeneratorFailed Code = "candidates.generator_failed"
)

// ---- scoring ----
const (
	ScoringArtifactInvalid Code = "scoring.artifact_invalid"
)

// ---- decision ----
const (
	DecisionRerankFailed Code = "decision.rerank_failed"
)

// ---- review ----
const (
	ReviewNotFound        Code = "review.not_found"
	ReviewAlreadyResolved Code = "review.already_resolved"
)

// ---- storage ----
const (
	StorageUnavailable Code = "storage.unavailable"
	StorageConflict    Code = "storage.conflict"
	StorageNotFound    Code = "storage.not_found"
)

// ---- ingest ----
const (
	IngestInvalidRow    Code = "ingest.invalid_row"
	IngestSchemaInvalid Code = "ingest.schema_invalid"
)

// ---- internal ----
const (
	Internal        Code = "internal"
	InternalTimeout Code = "internal.timeout"
)

var registry = map[Code]CodeMeta{
	CanonEmpty: {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "name canonicalizes to empty"},

	EmbeddingProviderDown: {HTTPStatus: 200, Retryable: true, Kind: "dependency", Description: "remote embedding provider unavailable, used local fallback"},
	EmbeddingCacheError:   {HTTPStatus: 200, Retryable: true, Kind: "dependency", Description: "embedding cache read/write failed, bypassed"},

	CandidatesGeneratorFailed: {HTTPStatus: 200, Retryable: true, Kind: "dependency", Description: "a candidate view failed and was skipped"},

	ScoringArtifactInvalid: {HTTPStatus: 500, Retryable: false, Kind: "server", Description: "learned scorer artifact is invalid, heuristic fallback used"},

	DecisionRerankFailed: {HTTPStatus: 200, Retryable: true, Kind: "dependency", Description: "LLM rerank call failed, decision unchanged"},

	ReviewNotFound:        {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "review item not found"},
	ReviewAlreadyResolved: {HTTPStatus: 409, Retryable: false, Kind: "client", Description: "review item already approved or rejected"},

	StorageUnavailable: {HTTPStatus: 503, Retryable: true, Kind: "dependency", Description: "storage unavailable"},
	StorageConflict:    {HTTPStatus: 409, Retryable: true, Kind: "dependency", Description: "write conflict"},
	StorageNotFound:    {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "object not found"},

	IngestInvalidRow:    {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "ingest row failed validation"},
	IngestSchemaInvalid: {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "ingest payload schema invalid"},

	Internal:        {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "internal error"},
	InternalTimeout: {HTTPStatus: 504, Retryable: true, Kind: "server", Description: "internal timeout"},
}

// Meta returns the metadata registered for code, if any.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}

// List returns all known codes, sorted.
func List() []Code {
	out := make([]Code, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
