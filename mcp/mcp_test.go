package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/toolregistry"
)

type stubDispatcher struct{}

func (stubDispatcher) AugmentQuery(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}
func (stubDispatcher) TrackInteraction(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) UpdateOutcome(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) GenerateTrainingData(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) SearchContext(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) HybridSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) RouteSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) StoreAgentMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) RecallAgentMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) RunHarnessEval(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) HarnessStats(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) LearningFeedback(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
func (stubDispatcher) SearchTree(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func TestNewRegistersAllThirteenToolsOnRegistry(t *testing.T) {
	reg := toolregistry.New(toolregistry.Config{Logger: logging.NoOpLogger{}})
	New(stubDispatcher{}, reg, logging.NoOpLogger{})

	names := []string{
		"augment_query", "track_interaction", "update_outcome", "generate_training_data",
		"search_context", "hybrid_search", "route_search", "store_agent_memory",
		"recall_agent_memory", "search_tree", "run_harness_eval", "harness_stats", "learning_feedback",
	}
	for _, n := range names {
		result, err := reg.ExecuteTool(context.Background(), "test", "caller", n, nil)
		require.NoError(t, err, n)
		_ = result
	}
}

func TestNewWithoutRegistryStillBuildsServer(t *testing.T) {
	s := New(stubDispatcher{}, nil, logging.NoOpLogger{})
	assert.NotNil(t, s.MCPServer())
}
