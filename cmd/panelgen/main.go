package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/gridpulse/panelgen/internal/catalog"
	"github.com/gridpulse/panelgen/internal/grafana"
	"github.com/gridpulse/panelgen/internal/llm"
	"github.com/gridpulse/panelgen/internal/metrics"
	"github.com/gridpulse/panelgen/internal/pipeline"
	"github.com/gridpulse/panelgen/internal/preview"
	"github.com/gridpulse/panelgen/internal/server"
	"github.com/gridpulse/panelgen/internal/store"
	"github.com/gridpulse/panelgen/internal/synth"
	"github.com/gridpulse/panelgen/internal/validate"
	"github.com/gridpulse/panelgen/internal/viz"
)

func main() {
	_ = godotenv.Load()

	var (
		listenAddr  = flag.String("listen-addr", getenv("LISTEN_ADDR", ":8080"), "HTTP listen address")
		catalogPath = flag.String("catalog", os.Getenv("CATALOG_PATH"), "path to YAML data-source catalog (built-in ERCOT catalog if empty)")
		verbose     = flag.Bool("verbose", os.Getenv("VERBOSE") == "true", "enable debug logging")
	)
	flag.Parse()

	log := newLogger(*verbose)

	if err := run(log, *listenAddr, *catalogPath); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, listenAddr, catalogPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}
	log.Info("catalog loaded", "sources", len(cat.Descriptors()))

	engine, err := preview.NewClickHouseEngine(ctx, log,
		getenv("CLICKHOUSE_ADDR", "localhost:9000"),
		getenv("CLICKHOUSE_DATABASE", "default"),
		os.Getenv("CLICKHOUSE_USERNAME"),
		os.Getenv("CLICKHOUSE_PASSWORD"),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	executor, err := preview.NewExecutor(preview.ExecutorConfig{
		Logger: log,
		Engine: engine,
		RowCap: getenvInt("PREVIEW_ROW_CAP", preview.DefaultRowCap),
	})
	if err != nil {
		return err
	}

	var completer viz.Completer
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		adapter, err := llm.NewAdapter(llm.AdapterConfig{
			Logger:        log,
			Client:        llm.NewAnthropicClient(log, anthropic.Model(getenv("ANTHROPIC_MODEL", string(anthropic.ModelClaude3_5Haiku20241022))), 1024),
			MaxConcurrent: int64(getenvInt("AI_MAX_CONCURRENT", 4)),
			OnBreakerOpen: metrics.AIBreakerOpensTotal.Inc,
		})
		if err != nil {
			return err
		}
		completer = adapter
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, classifier runs fallback-only")
	}

	classifier, err := viz.NewClassifier(viz.ClassifierConfig{
		Logger: log,
		LLM:    completer,
		OnPath: func(p viz.Path) { metrics.ClassifierPathTotal.WithLabelValues(string(p)).Inc() },
	})
	if err != nil {
		return err
	}

	synthesizer, err := synth.NewSynthesizer(synth.SynthesizerConfig{
		MaxRows: getenvInt("QUERY_MAX_ROWS", synth.DefaultMaxRows),
	})
	if err != nil {
		return err
	}
	validator, err := validate.NewValidator(validate.ValidatorConfig{
		MaxRows: getenvInt("QUERY_MAX_ROWS", synth.DefaultMaxRows),
	})
	if err != nil {
		return err
	}

	publisher, err := grafana.NewClient(grafana.ClientConfig{
		Logger:         log,
		BaseURL:        getenv("GRAFANA_URL", "http://localhost:3000"),
		Username:       getenv("GRAFANA_USER", "admin"),
		Password:       getenv("GRAFANA_PASSWORD", "admin"),
		DatasourceUID:  getenv("GRAFANA_DATASOURCE_UID", "clickhouse"),
		DatasourceType: os.Getenv("GRAFANA_DATASOURCE_TYPE"),
		OnDedupeHit:    metrics.DeploymentDedupeTotal.Inc,
	})
	if err != nil {
		return err
	}
	defer publisher.Close()
	if err := publisher.Ping(ctx); err != nil {
		// Startup proceeds; deployments will fail loudly until the
		// dashboard service is reachable.
		log.Warn("dashboard service ping failed", "error", err)
	}

	var recordStore pipeline.RecordStore
	if dsn := os.Getenv("RECORD_STORE_DSN"); dsn != "" {
		st, err := store.New(ctx, store.Config{Logger: log, DSN: dsn})
		if err != nil {
			return err
		}
		defer st.Close()
		recordStore = st
	}

	runner, err := pipeline.New(pipeline.Config{
		Logger:     log,
		Classifier: classifier,
		Resolver:   catalog.NewResolver(cat),
		Synth:      synthesizer,
		Validator:  validator,
		Preview:    executor,
		Publisher:  publisher,
		Store:      recordStore,
		OnStage: func(stage pipeline.Stage, outcome string, d time.Duration) {
			metrics.PipelineStagesTotal.WithLabelValues(string(stage), outcome).Inc()
			metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
		},
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:         log,
		Runner:         runner,
		MaxPipelines:   getenvInt("MAX_PIPELINES", 16),
		AllowedOrigins: splitCSV(os.Getenv("ALLOWED_ORIGINS")),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(path)
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z"))
			}
			return a
		},
	}))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
