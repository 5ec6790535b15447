// Package toolregistry implements the persistent tool/skill catalog and
// its two-tier progressive disclosure: a minimal view (names +
// descriptions, public) and a full view (entire manifest, API-key
// gated). The catalog hydrates from disk, then the KV cache, then the
// database, dispatches tool calls by name, and appends an audit record
// for every call.
package toolregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/kvstore"
	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// DisclosureMode controls how much of a tool's manifest is revealed.
type DisclosureMode string

const (
	DisclosureMinimal DisclosureMode = "minimal"
	DisclosureFull    DisclosureMode = "full"
)

// ToolManifest is a registered tool's catalog entry.
type ToolManifest struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	Manifest           map[string]interface{} `json:"manifest"`
	CostEstimateTokens int                    `json:"cost_estimate_tokens"`
}

// minimalView is what DisclosureMinimal reveals.
type minimalView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Handler executes a curated integration by name. Unknown names are
// rejected by the registry before a Handler is ever consulted.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Skill is an imported markdown skill, persisted as "pending" until an
// operator approves it.
type Skill struct {
	Slug        string                 `json:"slug"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Version     string                 `json:"version"`
	Tags        []string               `json:"tags"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata"`
	Status      string                 `json:"status"` // pending | approved | rejected
}

// AuditRecord is emitted for every tool call, success or failure.
type AuditRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Service        string    `json:"service"`
	ToolName       string    `json:"tool_name"`
	CallerHash     string    `json:"caller_hash"`
	ParametersHash string    `json:"parameters_hash"`
	Outcome        string    `json:"outcome"` // success | error
	ErrorMessage   string    `json:"error_message,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
}

// DBStore is the relational-store fallback tier for warm_cache. It is a
// narrow interface so the registry doesn't import relstore directly.
type DBStore interface {
	ListTools(ctx context.Context) ([]ToolManifest, error)
}

// Registry is the persistent tool/skill catalog.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]ToolManifest
	skills  map[string]*Skill
	handlers map[string]Handler

	kv          *kvstore.Client
	db          DBStore
	diskPath    string
	apiKey      string
	auditPath   string
	auditMu     sync.Mutex
	logger      logging.Logger
}

// Config configures a Registry.
type Config struct {
	KV        *kvstore.Client
	DB        DBStore
	DiskPath  string
	APIKey    string
	AuditPath string
	Logger    logging.Logger
}

func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("toolregistry/registry")
	}
	return &Registry{
		tools:     make(map[string]ToolManifest),
		skills:    make(map[string]*Skill),
		handlers:  make(map[string]Handler),
		kv:        cfg.KV,
		db:        cfg.DB,
		diskPath:  cfg.DiskPath,
		apiKey:    cfg.APIKey,
		auditPath: cfg.AuditPath,
		logger:    logger,
	}
}

// RegisterHandler wires a curated integration's executable implementation.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterTool adds or replaces a tool manifest directly (used for
// built-in, always-available tools that don't go through skill import).
func (r *Registry) RegisterTool(t ToolManifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// WarmCache hydrates the in-memory catalog from disk, then the KV
// cache, then the database, in that priority order — each tier only
// fills tools not already present from a higher-priority tier.
func (r *Registry) WarmCache(ctx context.Context) error {
	if err := r.loadFromDisk(); err != nil {
		r.logger.WarnWithContext(ctx, "warm_cache: disk load failed", logging.Fields{"error": err.Error()})
	}
	if err := r.loadFromKV(ctx); err != nil {
		r.logger.WarnWithContext(ctx, "warm_cache: kv load failed", logging.Fields{"error": err.Error()})
	}
	if err := r.loadFromDB(ctx); err != nil {
		r.logger.WarnWithContext(ctx, "warm_cache: db load failed", logging.Fields{"error": err.Error()})
	}
	return nil
}

func (r *Registry) loadFromDisk() error {
	if r.diskPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.diskPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var tools []ToolManifest
	if err := json.Unmarshal(data, &tools); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.tools[t.Name]; !exists {
			r.tools[t.Name] = t
		}
	}
	return nil
}

func (r *Registry) loadFromKV(ctx context.Context) error {
	if r.kv == nil {
		return nil
	}
	keys, err := r.kv.Scan(ctx, "tool:*")
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, ok, err := r.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var t ToolManifest
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue
		}
		r.mu.Lock()
		if _, exists := r.tools[t.Name]; !exists {
			r.tools[t.Name] = t
		}
		r.mu.Unlock()
	}
	return nil
}

func (r *Registry) loadFromDB(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	tools, err := r.db.ListTools(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.tools[t.Name]; !exists {
			r.tools[t.Name] = t
		}
	}
	return nil
}

// PersistCache dumps the in-memory catalog to disk.
func (r *Registry) PersistCache() error {
	if r.diskPath == "" {
		return apperrors.Newf(apperrors.KindValidation, "no disk path configured")
	}
	r.mu.RLock()
	tools := make([]ToolManifest, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	r.mu.RUnlock()

	data, err := json.Marshal(tools)
	if err != nil {
		return apperrors.New("toolregistry.PersistCache", apperrors.KindInternal, err)
	}
	if err := os.MkdirAll(filepath.Dir(r.diskPath), 0o755); err != nil {
		return apperrors.New("toolregistry.PersistCache", apperrors.KindInternal, err)
	}
	if err := os.WriteFile(r.diskPath, data, 0o644); err != nil {
		return apperrors.New("toolregistry.PersistCache", apperrors.KindInternal, err)
	}
	return nil
}

// GetTools returns the catalog at the requested disclosure level.
// DisclosureFull requires hasValidKey to be true when an API key is
// configured.
func (r *Registry) GetTools(mode DisclosureMode, hasValidKey bool) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if mode == DisclosureFull {
		if r.apiKey != "" && !hasValidKey {
			return nil, apperrors.Newf(apperrors.KindInvalidAPIKey, "full disclosure requires a valid API key")
		}
		out := make([]ToolManifest, 0, len(r.tools))
		for _, t := range r.tools {
			out = append(out, t)
		}
		return out, nil
	}

	out := make([]minimalView, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, minimalView{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

// ExecuteTool dispatches by name. Unknown names fail with a structured
// not_found error before any handler is consulted. Every call — success
// or failure — emits an audit record; a failure to write that record
// never propagates to the caller.
func (r *Registry) ExecuteTool(ctx context.Context, service, callerHash, name string, params map[string]interface{}) (result interface{}, err error) {
	start := time.Now()
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	defer func() {
		outcome := "success"
		errMsg := ""
		if err != nil {
			outcome = "error"
			errMsg = err.Error()
		}
		r.writeAudit(AuditRecord{
			Timestamp:      start,
			Service:        service,
			ToolName:       name,
			CallerHash:     callerHash,
			ParametersHash: hashParams(params),
			Outcome:        outcome,
			ErrorMessage:   errMsg,
			LatencyMS:      time.Since(start).Milliseconds(),
		})
	}()

	if !ok {
		err = apperrors.Newf(apperrors.KindNotFound, "unknown tool %q", name)
		return nil, err
	}
	result, err = h(ctx, params)
	return result, err
}

func hashParams(params map[string]interface{}) string {
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (r *Registry) writeAudit(rec AuditRecord) {
	if r.auditPath == "" {
		return
	}
	r.auditMu.Lock()
	defer r.auditMu.Unlock()

	f, err := os.OpenFile(r.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("audit log open failed", logging.Fields{"error": err.Error()})
		return
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warn("audit log marshal failed", logging.Fields{"error": err.Error()})
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		r.logger.Warn("audit log write failed", logging.Fields{"error": err.Error()})
	}
}
