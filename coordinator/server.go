package coordinator

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itsneelabh/hybrid-coordinator/cache"
	"github.com/itsneelabh/hybrid-coordinator/health"
	"github.com/itsneelabh/hybrid-coordinator/interaction"
	"github.com/itsneelabh/hybrid-coordinator/kvstore"
	"github.com/itsneelabh/hybrid-coordinator/learning"
	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	mcpserver "github.com/itsneelabh/hybrid-coordinator/mcp"
	"github.com/itsneelabh/hybrid-coordinator/query"
	"github.com/itsneelabh/hybrid-coordinator/ralph"
	"github.com/itsneelabh/hybrid-coordinator/relstore"
	"github.com/itsneelabh/hybrid-coordinator/resilience"
	"github.com/itsneelabh/hybrid-coordinator/session"
	"github.com/itsneelabh/hybrid-coordinator/toolregistry"
)

// Config bundles every already-constructed subsystem the coordinator
// wires into the HTTP surface. The composition root (cmd/coordinator)
// builds each of these and passes them in; this package never
// constructs an outbound client itself.
type Config struct {
	Pipeline     *query.Pipeline
	Sessions     *session.Manager
	Interactions *interaction.Tracker
	Ralph        *ralph.Engine
	Learning     *learning.Pipeline
	Tools        *toolregistry.Registry
	Health       *health.Prober
	Cache        *cache.Cache
	RateLimiter  *resilience.RateLimiter
	KV           *kvstore.Client
	RelStore     *relstore.Store
	Logger       logging.Logger
	Breakers     *resilience.Registry

	// LLM answers routed-local queries when generate_response is set;
	// LoadGate parks prefer_local requests while the model is loading.
	// Both optional: without them the
	// query route degrades to context-only responses.
	LLM      *llmengine.Client
	LoadGate *llmengine.LoadGate

	APIKey  string
	DevMode bool
	CORS    CORSConfig

	// ServiceName and Collections populate GET /health's response
	// shape; Collections defaults to vectorstore.AllCollections when
	// unset.
	ServiceName string
	Collections []string

	// ReloadableServices whitelists the service names /reload-model
	// accepts.
	ReloadableServices []string
}

// Coordinator is the HTTP front-end: it owns no business logic of its
// own, only routing, middleware, and response shaping.
type Coordinator struct {
	cfg    Config
	logger logging.Logger
	mcp    *mcpserver.Server
}

// New builds a Coordinator and its mux-backed http.Handler.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("coordinator/http")
	}
	c := &Coordinator{cfg: cfg, logger: logger}
	c.mcp = mcpserver.New(dispatcher{c}, cfg.Tools, logger)
	return c
}

// Handler builds the full mux with the middleware chain applied
// to every route except /health, /metrics and /ws.
func (c *Coordinator) Handler() http.Handler {
	mux := http.NewServeMux()
	c.registerRoutes(mux)

	wrapped := Chain(mux,
		RequestIDMiddleware,
		TracingMiddleware,
		LoggingMiddleware(c.logger, c.cfg.DevMode),
		CORSMiddleware(c.cfg.CORS),
		RateLimitMiddleware(c.cfg.RateLimiter),
		APIKeyMiddleware(c.cfg.APIKey),
	)

	// /health, /metrics and /ws bypass the full chain.
	final := http.NewServeMux()
	final.HandleFunc("/health", c.handleHealth)
	final.Handle("/metrics", promhttp.Handler())
	final.HandleFunc("/ws", c.handleWebSocket)
	final.Handle("/", wrapped)
	return final
}

// MCP exposes the underlying MCP dispatcher for stdio/SSE transports.
func (c *Coordinator) MCP() *mcpserver.Server { return c.mcp }

// Shutdown persists the tool registry's cache when a registry is
// configured. It does not stop the HTTP server; net/http.Server.Shutdown
// does that.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.cfg.Tools != nil {
		_ = c.cfg.Tools.PersistCache()
	}
	return nil
}
