// Package vectorstore is the outbound client for the vector store that
// backs the five retrieval collections (codebase-context, skills-patterns,
// error-solutions, best-practices, interaction-history). It wraps the
// official qdrant/go-client SDK rather than hand-rolling the wire
// protocol, matching the rest of this codebase's preference for a real
// ecosystem client over a bespoke HTTP layer.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/resilience"
)

// Collection names this system searches and writes to.
const (
	CollectionCodebaseContext  = "codebase-context"
	CollectionSkillsPatterns   = "skills-patterns"
	CollectionErrorSolutions   = "error-solutions"
	CollectionBestPractices    = "best-practices"
	CollectionInteractionHistory = "interaction-history"
)

// AllCollections lists every collection the startup probe must verify
// exists before reporting ready.
var AllCollections = []string{
	CollectionCodebaseContext,
	CollectionSkillsPatterns,
	CollectionErrorSolutions,
	CollectionBestPractices,
	CollectionInteractionHistory,
}

// Point is a single upserted record: a stable id, its embedding, and an
// arbitrary JSON-shaped payload (the typed ContextItem payload is
// marshaled by the caller before reaching this layer).
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchHit is a single similarity-search result. Vector is only
// populated when the caller requested it (GetByID's read-modify-write
// callers need the existing embedding back; Search/Scroll callers
// don't and leave it empty to avoid the extra payload size).
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
	Vector  []float32
}

// Client is a thin, circuit-breaker-protected wrapper around a qdrant
// gRPC connection.
type Client struct {
	qc      *qdrant.Client
	breaker *resilience.CircuitBreaker
	logger  logging.Logger
}

// Config configures the underlying gRPC connection.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// New dials the vector store and returns a Client. breaker should be a
// generic-service breaker (resilience.NewDefaultServiceConfig) shared
// across all vector-store calls.
func New(cfg Config, breaker *resilience.CircuitBreaker, logger logging.Logger) (*Client, error) {
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, apperrors.New("vectorstore.New", apperrors.KindUpstreamError, err)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("vectorstore/client")
	}
	return &Client{qc: qc, breaker: breaker, logger: logger}, nil
}

// Healthz reports connectivity by listing collections — the SDK exposes
// no dedicated health RPC, so a cheap metadata call stands in for one.
func (c *Client) Healthz(ctx context.Context) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := c.qc.ListCollections(ctx)
		if err != nil {
			return apperrors.New("vectorstore.Healthz", apperrors.KindUpstreamError, err)
		}
		return nil
	})
}

// EnsureCollections creates any of names that do not already exist, each
// configured for dim-dimensional cosine-similarity vectors. Used by the
// startup probe to verify (and, on first boot, provision) the fixed set
// of retrieval collections.
func (c *Client) EnsureCollections(ctx context.Context, names []string, dim uint64) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		for _, name := range names {
			exists, err := c.qc.CollectionExists(ctx, name)
			if err != nil {
				return apperrors.New("vectorstore.EnsureCollections", apperrors.KindUpstreamError, err)
			}
			if exists {
				continue
			}
			err = c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     dim,
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return apperrors.New("vectorstore.EnsureCollections", apperrors.KindUpstreamError, err)
			}
		}
		return nil
	})
}

// Upsert writes points into collection, replacing any existing point
// with the same id.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	wire := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		wire = append(wire, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	return c.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         wire,
		})
		if err != nil {
			return apperrors.New("vectorstore.Upsert", apperrors.KindUpstreamError, err)
		}
		return nil
	})
}

// Search runs a similarity search against collection, returning up to
// limit hits ordered by descending score.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]SearchHit, error) {
	var hits []SearchHit
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		withPayload := true
		resp, err := c.qc.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(withPayload),
		})
		if err != nil {
			return apperrors.New("vectorstore.Search", apperrors.KindUpstreamError, err)
		}
		hits = make([]SearchHit, 0, len(resp))
		for _, r := range resp {
			hits = append(hits, SearchHit{
				ID:      idToString(r.GetId()),
				Score:   r.GetScore(),
				Payload: valueMapToGo(r.GetPayload()),
			})
		}
		return nil
	})
	return hits, err
}

// GetByID retrieves a single point's payload and vector by id, used by
// the interaction tracker to read-modify-write a context item's usage
// counters (EMA success_rate update) without losing the point's
// embedding on the subsequent Upsert. Returns false if no point with
// that id exists in the collection.
func (c *Client) GetByID(ctx context.Context, collection, id string) (*SearchHit, bool, error) {
	var hit *SearchHit
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		withPayload := true
		withVectors := true
		resp, err := c.qc.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
			WithPayload:    qdrant.NewWithPayload(withPayload),
			WithVectors:    qdrant.NewWithVectors(withVectors),
		})
		if err != nil {
			return apperrors.New("vectorstore.GetByID", apperrors.KindUpstreamError, err)
		}
		if len(resp) == 0 {
			return nil
		}
		hit = &SearchHit{
			ID:      idToString(resp[0].GetId()),
			Payload: valueMapToGo(resp[0].GetPayload()),
			Vector:  vectorFromOutput(resp[0].GetVectors()),
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return hit, hit != nil, nil
}

// vectorFromOutput extracts the plain dense vector out of a retrieved
// point's Vectors field, which is nil when WithVectors wasn't requested.
func vectorFromOutput(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}

// Scroll pages through every point in collection without a query
// vector, used by the startup probe's collection-population sanity
// check and by batch maintenance jobs (pattern re-embedding, etc).
// offset is the point id to resume from ("" to start at the beginning);
// the returned offset is passed back in to fetch the next page, and is
// "" once the scroll is exhausted.
func (c *Client) Scroll(ctx context.Context, collection string, limit uint32, offset string) ([]SearchHit, string, error) {
	var hits []SearchHit
	var nextOffset string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		withPayload := true
		req := &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(withPayload),
		}
		if offset != "" {
			req.Offset = qdrant.NewIDUUID(offset)
		}
		resp, err := c.qc.Scroll(ctx, req)
		if err != nil {
			return apperrors.New("vectorstore.Scroll", apperrors.KindUpstreamError, err)
		}
		hits = make([]SearchHit, 0, len(resp))
		for _, r := range resp {
			hits = append(hits, SearchHit{
				ID:      idToString(r.GetId()),
				Payload: valueMapToGo(r.GetPayload()),
			})
		}
		if len(resp) > 0 && len(resp) == int(limit) {
			nextOffset = idToString(resp[len(resp)-1].GetId())
		}
		return nil
	})
	return hits, nextOffset, err
}

func idToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func valueMapToGo(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = valueToGo(v)
	}
	return out
}

// valueToGo converts a qdrant.Value oneof into a plain Go value, since
// the response payload must be usable by callers that know nothing about
// the wire protobuf representation.
func valueToGo(v *qdrant.Value) interface{} {
	if v == nil {
		return nil
	}
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	case v.GetBoolValue():
		return true
	case v.GetListValue() != nil:
		items := v.GetListValue().GetValues()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = valueToGo(item)
		}
		return out
	case v.GetStructValue() != nil:
		fields := v.GetStructValue().GetFields()
		out := make(map[string]interface{}, len(fields))
		for k, f := range fields {
			out[k] = valueToGo(f)
		}
		return out
	default:
		return nil
	}
}
