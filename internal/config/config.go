// Package config loads the typed Config from a layered set of sources:
// a base file, an optional environment-specific file, and environment
// variable overrides, merged deterministically in that order — the same
// layering the teacher's pkg/config uses, adapted to this system's fixed
// key set (§6) and upgraded to parse real YAML via gopkg.in/yaml.v3
// instead of the teacher's JSON-only restriction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Safety bounds, named rather than inlined, matching the teacher's
// defensive-limit convention.
const (
	MaxFileBytes = 1 << 20 // 1 MiB
	EnvPrefix    = "PAYEEMATCH_"
)

// Config is every configuration key enumerated in §6, plus the BigQuery
// sync fields carried from the original Python system (inert here — no
// SPEC_FULL.md component acts on them; see SPEC_FULL.md §12).
type Config struct {
	DatabaseURL string `yaml:"database_url"`

	BigQueryProjectID      string `yaml:"bigquery_project_id"`
	BigQueryDataset        string `yaml:"bigquery_dataset"`
	BigQueryTable          string `yaml:"bigquery_table"`
	BigQueryCredentialsPath string `yaml:"bigquery_credentials_path"`

	OpenAIAPIKey       string `yaml:"openai_api_key"`
	EmbeddingsProvider string `yaml:"embeddings_provider"` // openai|local|none
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	RerankProvider     string `yaml:"rerank_provider"` // openai|none
	RerankModel        string `yaml:"rerank_model"`

	TopKTrigram  int `yaml:"topk_trigram"`
	TopKVector   int `yaml:"topk_vector"`
	TopKPhonetic int `yaml:"topk_phonetic"`
	KUnion       int `yaml:"k_union"`

	THigh float64 `yaml:"t_high"`
	TLow  float64 `yaml:"t_low"`

	BatchWorkers   int `yaml:"batch_workers"`
	BatchChunkSize int `yaml:"batch_chunk_size"`

	LogLevel       string `yaml:"log_level"`
	EnableReviewUI bool   `yaml:"enable_review_ui"`

	HTTPAddr string `yaml:"http_addr"`
}

// Defaults returns the §6-specified defaults.
func Defaults() Config {
	return Config{
		EmbeddingsProvider: "local",
		EmbeddingDim:       1024,
		RerankProvider:     "none",
		TopKTrigram:        50,
		TopKVector:         50,
		TopKPhonetic:       50,
		KUnion:             120,
		THigh:              0.97,
		TLow:               0.60,
		BatchWorkers:       8,
		BatchChunkSize:     1000,
		LogLevel:           "info",
		HTTPAddr:           ":8080",
	}
}

// Load merges Defaults(), then baseFile, then an optional env-named
// overlay file (baseFile with its extension replaced by
// ".<env>.yaml"/".<env>.yml" — only applied when present), then
// PAYEEMATCH_-prefixed environment variables, in that deterministic
// order.
func Load(baseFile, env string) (Config, error) {
	cfg := Defaults()

	if baseFile != "" {
		if err := mergeFile(&cfg, baseFile); err != nil {
			return Config{}, err
		}
		if env != "" {
			overlay := envOverlayPath(baseFile, env)
			if _, err := os.Stat(overlay); err == nil {
				if err := mergeFile(&cfg, overlay); err != nil {
					return Config{}, err
				}
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func envOverlayPath(base, env string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s.%s%s", stem, env, ext)
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(b) > MaxFileBytes {
		return fmt.Errorf("config: %s exceeds %d bytes", path, MaxFileBytes)
	}
	var overlay Config
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeInto(cfg, overlay)
	return nil
}

// mergeInto overlays non-zero fields of src onto dst, field by field, so
// a layer only ever narrows, never silently blanks, an already-set value.
func mergeInto(dst *Config, src Config) {
	if src.DatabaseURL != "" {
		dst.DatabaseURL = src.DatabaseURL
	}
	if src.BigQueryProjectID != "" {
		dst.BigQueryProjectID = src.BigQueryProjectID
	}
	if src.BigQueryDataset != "" {
		dst.BigQueryDataset = src.BigQueryDataset
	}
	if src.BigQueryTable != "" {
		dst.BigQueryTable = src.BigQueryTable
	}
	if src.BigQueryCredentialsPath != "" {
		dst.BigQueryCredentialsPath = src.BigQueryCredentialsPath
	}
	if src.OpenAIAPIKey != "" {
		dst.OpenAIAPIKey = src.OpenAIAPIKey
	}
	if src.EmbeddingsProvider != "" {
		dst.EmbeddingsProvider = src.EmbeddingsProvider
	}
	if src.EmbeddingModel != "" {
		dst.EmbeddingModel = src.EmbeddingModel
	}
	if src.EmbeddingDim != 0 {
		dst.EmbeddingDim = src.EmbeddingDim
	}
	if src.RerankProvider != "" {
		dst.RerankProvider = src.RerankProvider
	}
	if src.RerankModel != "" {
		dst.RerankModel = src.RerankModel
	}
	if src.TopKTrigram != 0 {
		dst.TopKTrigram = src.TopKTrigram
	}
	if src.TopKVector != 0 {
		dst.TopKVector = src.TopKVector
	}
	if src.TopKPhonetic != 0 {
		dst.TopKPhonetic = src.TopKPhonetic
	}
	if src.KUnion != 0 {
		dst.KUnion = src.KUnion
	}
	if src.THigh != 0 {
		dst.THigh = src.THigh
	}
	if src.TLow != 0 {
		dst.TLow = src.TLow
	}
	if src.BatchWorkers != 0 {
		dst.BatchWorkers = src.BatchWorkers
	}
	if src.BatchChunkSize != 0 {
		dst.BatchChunkSize = src.BatchChunkSize
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.EnableReviewUI {
		dst.EnableReviewUI = true
	}
	if src.HTTPAddr != "" {
		dst.HTTPAddr = src.HTTPAddr
	}
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	i := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	f := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
			}
		}
	}
	b := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	str("DATABASE_URL", &cfg.DatabaseURL)
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("EMBEDDINGS_PROVIDER", &cfg.EmbeddingsProvider)
	str("EMBEDDING_MODEL", &cfg.EmbeddingModel)
	i("EMBEDDING_DIM", &cfg.EmbeddingDim)
	str("RERANK_PROVIDER", &cfg.RerankProvider)
	str("RERANK_MODEL", &cfg.RerankModel)
	i("TOPK_TRIGRAM", &cfg.TopKTrigram)
	i("TOPK_VECTOR", &cfg.TopKVector)
	i("TOPK_PHONETIC", &cfg.TopKPhonetic)
	i("K_UNION", &cfg.KUnion)
	f("T_HIGH", &cfg.THigh)
	f("T_LOW", &cfg.TLow)
	i("BATCH_WORKERS", &cfg.BatchWorkers)
	i("BATCH_CHUNK_SIZE", &cfg.BatchChunkSize)
	str("LOG_LEVEL", &cfg.LogLevel)
	b("ENABLE_REVIEW_UI", &cfg.EnableReviewUI)
	str("HTTP_ADDR", &cfg.HTTPAddr)
}
