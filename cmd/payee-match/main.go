// Command payee-match runs the HTTP surface over the matching pipeline
// (§6), wiring config, storage, embedding, scoring, decision and review
// collaborators into one process. Structure follows the teacher's
// services/audit/cmd/audit/main.go: flag-parsed config, a signal-driven
// graceful shutdown, JSON startup/shutdown log lines.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/chartlydata/payee-match/internal/config"
	"github.com/chartlydata/payee-match/internal/decision"
	"github.com/chartlydata/payee-match/internal/embedding"
	"github.com/chartlydata/payee-match/internal/httpapi"
	"github.com/chartlydata/payee-match/internal/idf"
	"github.com/chartlydata/payee-match/internal/match"
	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/review"
	"github.com/chartlydata/payee-match/internal/scoring"
	"github.com/chartlydata/payee-match/internal/store/postgres"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func main() {
	var configPath, env string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&env, "env", "", "environment overlay name (config.<env>.yaml)")
	flag.Parse()

	cfg, err := config.Load(configPath, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "payee-match: config:", err)
		os.Exit(1)
	}

	log := telemetry.New(os.Stdout, telemetry.Options{Service: "payee-match", Level: telemetry.Level(cfg.LogLevel), Timestamp: true})
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error(ctx, "fatal: storage unavailable at startup", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	idfCache, err := buildIDF(ctx, store)
	if err != nil {
		log.Warn(ctx, "idf cache build failed, using empty cache", map[string]any{"error": err.Error()})
		idfCache = idf.Empty()
	}

	pipeline := buildPipeline(cfg, store, idfCache, log)

	api := &httpapi.API{
		Pipeline:     pipeline,
		Review:       store,
		Store:        store,
		Log:          log,
		BatchWorkers: cfg.BatchWorkers,
	}
	router := httpapi.NewRouter(api)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "payee_match_server_start", map[string]any{
			"addr":    srv.Addr,
			"version": buildVersion,
			"commit":  buildCommit,
		})
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info(ctx, "shutdown_signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server_error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info(ctx, "payee_match_server_stopped", map[string]any{"addr": srv.Addr})
}

func openStore(ctx context.Context, cfg config.Config) (*postgres.Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := postgres.New(db, postgres.Options{EmbeddingDim: cfg.EmbeddingDim})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func buildIDF(ctx context.Context, store registry.Store) (*idf.Cache, error) {
	docs, err := store.AllTokenSets(ctx)
	if err != nil {
		return nil, err
	}
	return idf.Build(docs), nil
}

func buildPipeline(cfg config.Config, store *postgres.Store, idfCache *idf.Cache, log *telemetry.Logger) *match.Pipeline {
	embedCache, err := embedding.NewCache(10000, store, log)
	if err != nil {
		log.Warn(context.Background(), "embedding cache init failed, running uncached", map[string]any{"error": err.Error()})
	}

	var remote embedding.Provider
	if cfg.EmbeddingsProvider == "openai" && cfg.OpenAIAPIKey != "" {
		remote = embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	}
	local := embedding.NewLocalProvider(cfg.EmbeddingDim)
	provider := embedding.NewFallbackProvider(remote, local, log)
	if cfg.EmbeddingsProvider == "none" {
		provider = embedding.NewFallbackProvider(nil, local, log)
	}

	var reranker decision.Reranker
	if cfg.RerankProvider == "openai" && cfg.OpenAIAPIKey != "" {
		reranker = decision.NewOpenAIReranker(cfg.OpenAIAPIKey, cfg.RerankModel)
	}

	return &match.Pipeline{
		Store:        store,
		Embedder:     embedCache,
		EmbedProv:    provider,
		IDF:          idfCache,
		Scorer:       scoring.NewHeuristic(),
		Thresholds:   decision.Thresholds{THigh: cfg.THigh, TLow: cfg.TLow},
		Reranker:     reranker,
		Review:       review.NewService(store, nil),
		Log:          log,
		TopKTrigram:  cfg.TopKTrigram,
		TopKVector:   cfg.TopKVector,
		TopKPhonetic: cfg.TopKPhonetic,
		KUnion:       cfg.KUnion,
	}
}
