// Package cli implements the anorix CLI commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/KazKozDev/anorix/internal/buffer"
	"github.com/KazKozDev/anorix/internal/chunker"
	"github.com/KazKozDev/anorix/internal/config"
	"github.com/KazKozDev/anorix/internal/embedding"
	"github.com/KazKozDev/anorix/internal/extract"
	"github.com/KazKozDev/anorix/internal/index"
	"github.com/KazKozDev/anorix/internal/logging"
	"github.com/KazKozDev/anorix/internal/memory"
	"github.com/KazKozDev/anorix/internal/observability"
	"github.com/KazKozDev/anorix/internal/pipeline"
	"github.com/KazKozDev/anorix/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	configPath string
	dbPath     string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "anorix",
	Short: "Layered persistent memory for conversational agents",
	Long: "anorix keeps an agent's memory across sessions: a recent-context buffer,\n" +
		"a durable SQLite store with profile and facts, and a hybrid semantic and\n" +
		"full-text retrieval pipeline.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $ANORIX_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path override")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("ANORIX_CONFIG")
	}
	if path == "" {
		cfg := config.Default()
		applyOverrides(cfg)
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if env := os.Getenv("ANORIX_DB"); env != "" && dbPath == "" {
		cfg.DBPath = env
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := []logging.Option{logging.WithDebug(cfg.Log.Debug)}
	switch cfg.Log.Format {
	case "json":
		opts = append(opts, logging.WithJSON(true))
	case "pretty":
		opts = append(opts, logging.WithPretty(true))
	}
	return logging.New(opts...)
}

func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch cfg.Embedding.Provider {
	case "mock":
		emb = embedding.NewMockEmbedder(cfg.Embedding.Dims)
	case "ollama":
		emb = embedding.NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	case "openai":
		emb = embedding.NewOpenAIEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return embedding.NewCachedEmbedder(emb, int64(cfg.Embedding.CacheEntries))
}

// app bundles everything a command needs, plus its teardown.
type app struct {
	cfg         *config.Config
	log         *slog.Logger
	metrics     *observability.Metrics
	coordinator *memory.Coordinator
	store       *store.Store
}

func (a *app) close(ctx context.Context) {
	a.coordinator.Close(ctx)
	a.store.Close()
}

// openApp wires the full stack. resume controls whether the last
// unclosed session continues or a fresh one starts.
func openApp(ctx context.Context, resume bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	ix, err := index.Open(cfg.IndexDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer, "anorix")
	p := pipeline.New(st, ix, emb, log, metrics, pipeline.Options{
		Workers:      cfg.Pipeline.Workers,
		QueueSize:    cfg.Pipeline.QueueSize,
		EmbedTimeout: cfg.Pipeline.EmbedTimeout.Std(),
		Chunking: chunker.Options{
			MaxSize: cfg.Chunking.MaxSize,
			Overlap: cfg.Chunking.Overlap,
		},
	})

	coord, err := memory.New(ctx, st, p, buffer.New(cfg.Buffer.Capacity), extract.NewRuleExtractor(), log, metrics, memory.Options{
		Resume:            resume && cfg.Session.Resume,
		FactMinConfidence: cfg.Facts.MinConfidence,
		SearchLimit:       cfg.Search.Limit,
	})
	if err != nil {
		p.Close()
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, metrics: metrics, coordinator: coord, store: st}, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
