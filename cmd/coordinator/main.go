// Command coordinator is the composition root for the hybrid AI
// coordination plane's core service: it loads configuration, dials
// every outbound collaborator, wires the resilience, cache, health,
// registry, tracker, pipeline, session, Ralph, and learning
// subsystems together, and serves the resulting HTTP/MCP surface until
// a shutdown signal arrives. Construction is explicit and in
// dependency order; there is no DI container.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/itsneelabh/hybrid-coordinator/cache"
	"github.com/itsneelabh/hybrid-coordinator/config"
	"github.com/itsneelabh/hybrid-coordinator/coordinator"
	"github.com/itsneelabh/hybrid-coordinator/health"
	"github.com/itsneelabh/hybrid-coordinator/interaction"
	"github.com/itsneelabh/hybrid-coordinator/kvstore"
	"github.com/itsneelabh/hybrid-coordinator/learning"
	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/query"
	"github.com/itsneelabh/hybrid-coordinator/ralph"
	"github.com/itsneelabh/hybrid-coordinator/relstore"
	"github.com/itsneelabh/hybrid-coordinator/resilience"
	"github.com/itsneelabh/hybrid-coordinator/session"
	"github.com/itsneelabh/hybrid-coordinator/telemetry"
	"github.com/itsneelabh/hybrid-coordinator/toolregistry"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.NewStdLogger(logging.ParseLevel(cfg.Logging.Level)).WithComponent(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Error("tracing init failed", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	srv, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.coordinator.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	srv.ralph.Start(ctx)
	go srv.learning.Run(ctx)

	go func() {
		logger.Info("listening", logging.Fields{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", logging.Fields{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = srv.coordinator.Shutdown(shutdownCtx)
	srv.ralph.Shutdown()
	_ = shutdownTracing(shutdownCtx)
}

// services bundles every constructed subsystem for the lifetime of the
// process, so main can start/stop the background loops it owns
// directly instead of reaching back through the coordinator.
type services struct {
	coordinator *coordinator.Coordinator
	ralph       *ralph.Engine
	learning    *learning.Pipeline
}

// build wires the full dependency graph:
// resilience primitives first (everything else calls
// through them), then the outbound clients, then the components that
// depend on those clients, finishing with the coordinator front-end.
func build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*services, error) {
	breakers := resilience.NewRegistry()

	llmBreaker := breakers.GetOrCreate("llm-engine", resilience.NewInferenceEngineConfig("llm-engine"))
	llm := llmengine.New(cfg.LLM.BaseURL, cfg.LLM.Model, llmBreaker, llmengine.WithLogger(logger))

	vecHost, vecPort, err := splitHostPort(cfg.VectorDB.BaseURL, 6333)
	if err != nil {
		return nil, fmt.Errorf("vector store url: %w", err)
	}
	vecBreaker := breakers.GetOrCreate("vector-store", resilience.NewDefaultServiceConfig("vector-store"))
	vec, err := vectorstore.New(vectorstore.Config{Host: vecHost, Port: vecPort}, vecBreaker, logger)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	if err := vec.EnsureCollections(ctx, vectorstore.AllCollections, uint64(cfg.VectorDB.EmbeddingDim)); err != nil {
		logger.Warn("could not verify vector store collections at startup", logging.Fields{"error": err.Error()})
	}

	var kv *kvstore.Client
	if cfg.KV.RedisURL != "" {
		kv, err = kvstore.New(kvstore.Options{RedisURL: cfg.KV.RedisURL, Namespace: cfg.ServiceName, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("kv store: %w", err)
		}
	}

	var rel *relstore.Store
	if cfg.Relational.DSN != "" {
		rel, err = relstore.New(ctx, cfg.Relational.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("relational store: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Learning.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("data root: %w", err)
	}
	telemetryDir := filepath.Join(cfg.Learning.DataRoot, "telemetry")
	if err := os.MkdirAll(telemetryDir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry dir: %w", err)
	}
	hybridEvents := telemetry.NewWriter(filepath.Join(telemetryDir, "hybrid-events.jsonl"))
	ralphEvents := telemetry.NewWriter(filepath.Join(telemetryDir, "ralph-events.jsonl"))

	patternExtractor := interaction.NewLLMPatternExtractor(llm, vec, logger)
	tracker := interaction.New(vec,
		interaction.WithEmbedder(embedAdapter{llm}),
		interaction.WithPatternExtractor(patternExtractor),
		interaction.WithEventEmitter(hybridEvents),
		interaction.WithLogger(logger),
	)

	pipeline := query.New(vec, llm, query.WithConfidenceThreshold(0.85))
	sessions := session.New(kv, pipeline, llm, cfg.Session.TTL, session.WithLogger(logger))

	semanticCache := cache.New(cfg.Cache.SimilarityThreshold, cfg.Cache.DefaultTTL)

	rateLimiter := resilience.NewRateLimiter(cfg.Resilience.RateLimitWindow, cfg.Resilience.RateLimitRequestsPerW)

	tools := toolregistry.New(toolregistry.Config{
		KV:        kv,
		DiskPath:  filepath.Join(cfg.Learning.DataRoot, "tools.json"),
		APIKey:    cfg.HTTP.APIKey,
		AuditPath: "/var/log/nixos-ai-stack/tool-audit.jsonl",
		Logger:    logger,
	})
	if err := tools.WarmCache(ctx); err != nil {
		logger.Warn("tool cache warm-up failed", logging.Fields{"error": err.Error()})
	}

	ralphAgent := ralph.NewLLMAgent(llm, cfg.LLM.Model)
	ralphEngine := ralph.New(ralphAgent,
		ralph.WithApprovalTimeout(cfg.Ralph.ApprovalTimeout),
		ralph.WithBlockedExitCode(cfg.Ralph.BlockedExitCode),
		ralph.WithIterationBounds(cfg.Ralph.MinIterations, cfg.Ralph.MaxIterationsCap),
		ralph.WithHistoryCapacity(cfg.Ralph.HistoryCapPerKey),
		ralph.WithEventEmitter(ralphEvents),
		ralph.WithLogger(logger),
	)

	proposalLog := filepath.Join(cfg.Learning.DataRoot, "proposals.jsonl")
	proposals := learning.NewProposalGenerator(proposalLog, ralphEngine, 10)
	datasetPath := filepath.Join(cfg.Learning.DataRoot, "fine-tuning", "dataset.jsonl")
	if err := os.MkdirAll(filepath.Dir(datasetPath), 0o755); err != nil {
		return nil, fmt.Errorf("fine-tuning dir: %w", err)
	}
	extractor := learning.NewExtractor(vec, llm, datasetPath)

	telemetryFiles := []string{
		filepath.Join(telemetryDir, "ralph-events.jsonl"),
		filepath.Join(telemetryDir, "aidb-events.jsonl"),
		filepath.Join(telemetryDir, "hybrid-events.jsonl"),
	}
	checkpointPath := filepath.Join(cfg.Learning.DataRoot, "checkpoints", "checkpoint.json")
	if err := os.MkdirAll(filepath.Dir(checkpointPath), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	ingester := learning.NewIngester(telemetryFiles, checkpointPath, int64(cfg.Learning.CheckpointEveryN))

	var issueTracker *learning.IssueTracker
	if rel != nil {
		issueTracker = learning.NewIssueTracker(rel)
	}

	learningPipeline := learning.New(ingester, extractor, proposals,
		learning.WithIssueTracker(issueTracker),
		learning.WithInterval(cfg.Learning.BackpressureInterval),
		learning.WithThresholdMB(cfg.Learning.BackpressureMB),
		learning.WithLogger(logger),
	)

	prober := buildHealth(cfg, logger, vec, llm, rel, kv)

	loadGate := llmengine.NewLoadGate(llm, llmengine.WithGateLogger(logger))

	coord := coordinator.New(coordinator.Config{
		Pipeline:           pipeline,
		Sessions:           sessions,
		Interactions:       tracker,
		Ralph:              ralphEngine,
		Learning:           learningPipeline,
		Tools:              tools,
		Health:             prober,
		Cache:              semanticCache,
		RateLimiter:        rateLimiter,
		KV:                 kv,
		RelStore:           rel,
		Logger:             logger,
		Breakers:           breakers,
		LLM:                llm,
		LoadGate:           loadGate,
		APIKey:             cfg.HTTP.APIKey,
		ServiceName:        cfg.ServiceName,
		Collections:        vectorstore.AllCollections,
		ReloadableServices: []string{"llama-cpp", "ai-embeddings"},
	})

	return &services{coordinator: coord, ralph: ralphEngine, learning: learningPipeline}, nil
}

// buildHealth registers the dependency checks the readiness/startup
// probes run.
func buildHealth(cfg *config.Config, logger logging.Logger, vec *vectorstore.Client, llm *llmengine.Client, rel *relstore.Store, kv *kvstore.Client) *health.Prober {
	prober := health.New(cfg.ServiceName, health.WithLogger(logger))

	prober.RegisterDependency(health.DependencyCheck{
		Name: "vector-store", Critical: true, Weight: 2,
		Check: func(ctx context.Context) error { return vec.Healthz(ctx) },
	})
	prober.RegisterDependency(health.DependencyCheck{
		Name: "llm-engine", Critical: true, Weight: 2,
		Check: func(ctx context.Context) error {
			res, err := llm.Health(ctx)
			if err != nil {
				return err
			}
			if res.Status == llmengine.StatusUnknown {
				return fmt.Errorf("llm engine status unknown")
			}
			return nil
		},
	})
	if rel != nil {
		prober.RegisterDependency(health.DependencyCheck{
			Name: "relational-store", Critical: false, Weight: 1,
			Check: func(ctx context.Context) error { return rel.Healthz(ctx) },
		})
	}
	if kv != nil {
		prober.RegisterDependency(health.DependencyCheck{
			Name: "kv-cache", Critical: false, Weight: 1,
			Check: func(ctx context.Context) error { return kv.Ping(ctx) },
		})
	}
	prober.RegisterStartupCheck(health.DependencyCheck{
		Name: "vector-store-collections", Critical: true, Weight: 1,
		Check: func(ctx context.Context) error {
			return vec.EnsureCollections(ctx, vectorstore.AllCollections, uint64(cfg.VectorDB.EmbeddingDim))
		},
	})
	return prober
}

// embedAdapter adapts llmengine.Client's EmbeddingResponse shape to the
// plain [][]float32 the interaction package's Embedder interface
// expects.
type embedAdapter struct{ llm *llmengine.Client }

func (a embedAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.llm.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return resp.Vectors, nil
}

// splitHostPort parses a base URL like "http://localhost:6333" into a
// bare host and port, falling back to defaultPort when the URL omits
// one.
func splitHostPort(rawURL string, defaultPort int) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("invalid vector store URL %q", rawURL)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}
	return host, defaultPort, nil
}
