package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/interaction"
	"github.com/itsneelabh/hybrid-coordinator/query"
	"github.com/itsneelabh/hybrid-coordinator/ralph"
)

// agentMemoryTTL bounds how long a key/value agent memory item survives
// in the backing kvstore before it must be re-stored.
const agentMemoryTTL = 24 * time.Hour

// dispatcher adapts a Coordinator to the mcp.Dispatcher interface,
// routing every MCP tool call to the same underlying subsystem its HTTP
// counterpart uses so the two surfaces stay behaviorally identical.
type dispatcher struct {
	c *Coordinator
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (d dispatcher) AugmentQuery(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := stringArg(args, "query")
	if q == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "query is required")
	}
	if d.c.cfg.Pipeline == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "query pipeline not configured")
	}
	return d.c.cfg.Pipeline.Run(ctx, query.Request{
		Query:             q,
		EscalationEnabled: boolArg(args, "escalation_enabled"),
	})
}

func (d dispatcher) TrackInteraction(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.Interactions == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "interaction tracker not configured")
	}
	id, err := d.c.cfg.Interactions.TrackInteraction(ctx,
		stringArg(args, "query"),
		stringArg(args, "response"),
		interaction.AgentType(stringArg(args, "agent_type")),
		stringArg(args, "model"),
		stringSliceArg(args, "context_ids"),
		interaction.Outcome(stringArg(args, "outcome")),
		intArg(args, "feedback"),
		intArg(args, "tokens"),
		int64(intArg(args, "latency_ms")),
	)
	if err != nil {
		return nil, err
	}
	return map[string]string{"interaction_id": id}, nil
}

func (d dispatcher) UpdateOutcome(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.Interactions == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "interaction tracker not configured")
	}
	id := stringArg(args, "interaction_id")
	if id == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "interaction_id is required")
	}
	err := d.c.cfg.Interactions.UpdateOutcome(ctx, id, interaction.Outcome(stringArg(args, "outcome")), intArg(args, "feedback"))
	return nil, err
}

func (d dispatcher) GenerateTrainingData(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.Learning == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "learning pipeline not configured")
	}
	if err := d.c.cfg.Learning.RunOnce(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cycle complete"}, nil
}

func (d dispatcher) SearchContext(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return d.AugmentQuery(ctx, args)
}

func (d dispatcher) HybridSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return d.AugmentQuery(ctx, args)
}

func (d dispatcher) RouteSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resp, err := d.AugmentQuery(ctx, args)
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*query.Response)
	if !ok {
		return resp, nil
	}
	return map[string]interface{}{"route": r.Route, "confidence": r.Confidence}, nil
}

// agentMemoryKey namespaces a caller-supplied key under its session, so
// two sessions storing under "summary" don't collide.
func agentMemoryKey(sessionID, key string) string {
	if sessionID == "" {
		return "agent_memory:" + key
	}
	return "agent_memory:" + sessionID + ":" + key
}

func (d dispatcher) StoreAgentMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.KV == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "kv store not configured")
	}
	key := stringArg(args, "key")
	if key == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "key is required")
	}
	value := stringArg(args, "value")
	if value == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "value is required")
	}
	fullKey := agentMemoryKey(stringArg(args, "session_id"), key)
	if err := d.c.cfg.KV.Set(ctx, fullKey, value, agentMemoryTTL); err != nil {
		return nil, err
	}
	return map[string]string{"key": key, "status": "stored"}, nil
}

func (d dispatcher) RecallAgentMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.KV == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "kv store not configured")
	}
	key := stringArg(args, "key")
	if key == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "key is required")
	}
	fullKey := agentMemoryKey(stringArg(args, "session_id"), key)
	value, found, err := d.c.cfg.KV.Get(ctx, fullKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]interface{}{"key": key, "found": false}, nil
	}
	return map[string]interface{}{"key": key, "value": value, "found": true}, nil
}

func (d dispatcher) SearchTree(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := stringArg(args, "query")
	if q == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "query is required")
	}
	if d.c.cfg.Pipeline == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "query pipeline not configured")
	}
	collections := stringSliceArg(args, "collections")
	if len(collections) == 0 {
		collections = query.DefaultCollections()
	}
	limit := uint64(intArg(args, "limit"))
	if limit == 0 {
		limit = 5
	}
	tree, err := query.SearchTree(ctx, d.c.cfg.Pipeline.Vec(), d.c.cfg.Pipeline.LLM(), q, collections, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tree": tree}, nil
}

func (d dispatcher) RunHarnessEval(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.Ralph == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "ralph engine not configured")
	}
	prompt := stringArg(args, "prompt")
	if prompt == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "prompt is required")
	}
	task := d.c.cfg.Ralph.SubmitTask(ralph.SubmitRequest{
		Prompt:          prompt,
		Backend:         stringArg(args, "backend"),
		TaskType:        stringArg(args, "task_type"),
		RequireApproval: boolArg(args, "require_approval"),
	})
	return map[string]string{"task_id": task.TaskID, "status": string(task.Status)}, nil
}

func (d dispatcher) HarnessStats(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.Ralph == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "ralph engine not configured")
	}
	return d.c.cfg.Ralph.Stats(stringArg(args, "task_type"), stringArg(args, "backend")), nil
}

func (d dispatcher) LearningFeedback(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.c.cfg.Interactions == nil {
		return nil, apperrors.Newf(apperrors.KindInternal, "interaction tracker not configured")
	}
	id := stringArg(args, "interaction_id")
	if id == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "interaction_id is required")
	}
	if err := d.c.cfg.Interactions.UpdateOutcome(ctx, id, interaction.Outcome(stringArg(args, "outcome")), intArg(args, "feedback")); err != nil {
		return nil, err
	}
	return map[string]string{"status": fmt.Sprintf("recorded for %s", id)}, nil
}
