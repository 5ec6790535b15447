// Package mcp exposes the coordination plane's retrieval, memory, and
// learning operations as MCP tools via mark3labs/mcp-go, mirroring the
// HTTP surface's tool list. Wiring is explicit — a fixed table of
// name/description/schema/handler rows, no reflection — and every call
// emits a toolregistry audit entry.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/toolregistry"
)

// Dispatcher is the interface the Server delegates every tool call to;
// the coordinator composition root implements it by wiring the query
// pipeline, interaction tracker, session manager, and learning pipeline
// together.
type Dispatcher interface {
	AugmentQuery(ctx context.Context, args map[string]interface{}) (interface{}, error)
	TrackInteraction(ctx context.Context, args map[string]interface{}) (interface{}, error)
	UpdateOutcome(ctx context.Context, args map[string]interface{}) (interface{}, error)
	GenerateTrainingData(ctx context.Context, args map[string]interface{}) (interface{}, error)
	SearchContext(ctx context.Context, args map[string]interface{}) (interface{}, error)
	HybridSearch(ctx context.Context, args map[string]interface{}) (interface{}, error)
	RouteSearch(ctx context.Context, args map[string]interface{}) (interface{}, error)
	SearchTree(ctx context.Context, args map[string]interface{}) (interface{}, error)
	StoreAgentMemory(ctx context.Context, args map[string]interface{}) (interface{}, error)
	RecallAgentMemory(ctx context.Context, args map[string]interface{}) (interface{}, error)
	RunHarnessEval(ctx context.Context, args map[string]interface{}) (interface{}, error)
	HarnessStats(ctx context.Context, args map[string]interface{}) (interface{}, error)
	LearningFeedback(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Server wraps an mcp-go MCPServer, dispatching every registered tool
// through Dispatcher via the toolregistry.Registry — routing calls
// through ExecuteTool gives every MCP tool the same audit-log trail as
// the HTTP-facing tool catalog, for free.
type Server struct {
	mcp    *server.MCPServer
	disp   Dispatcher
	reg    *toolregistry.Registry
	logger logging.Logger
}

// New builds a Server with all thirteen MCP tools registered, both
// on the underlying mcp-go server and as toolregistry handlers.
func New(disp Dispatcher, reg *toolregistry.Registry, logger logging.Logger) *Server {
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("coordinator/mcp")
	}
	s := &Server{
		mcp:    server.NewMCPServer("hybrid-coordinator", "1.0.0", server.WithToolCapabilities(true)),
		disp:   disp,
		reg:    reg,
		logger: logger,
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying server for stdio/HTTP transports.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

type toolDef struct {
	name        string
	description string
	schema      mcp.ToolInputSchema
	call        func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func objSchema(props map[string]interface{}, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

func strProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func (s *Server) registerTools() {
	defs := []toolDef{
		{
			name:        "augment_query",
			description: "Expand, search, rerank, and assemble retrieval context for a query.",
			schema:      objSchema(map[string]interface{}{"query": strProp("the user query")}, "query"),
			call:        s.disp.AugmentQuery,
		},
		{
			name:        "track_interaction",
			description: "Record a completed interaction for scoring and pattern extraction.",
			schema:      objSchema(map[string]interface{}{"query": strProp("the query"), "response": strProp("the agent's response")}, "query", "response"),
			call:        s.disp.TrackInteraction,
		},
		{
			name:        "update_outcome",
			description: "Attach a feedback outcome to a previously tracked interaction.",
			schema:      objSchema(map[string]interface{}{"interaction_id": strProp("interaction id")}, "interaction_id"),
			call:        s.disp.UpdateOutcome,
		},
		{
			name:        "generate_training_data",
			description: "Export accumulated fine-tuning examples.",
			schema:      objSchema(map[string]interface{}{}),
			call:        s.disp.GenerateTrainingData,
		},
		{
			name:        "search_context",
			description: "Search a single collection for relevant context items.",
			schema:      objSchema(map[string]interface{}{"query": strProp("search text"), "collection": strProp("collection name")}, "query"),
			call:        s.disp.SearchContext,
		},
		{
			name:        "hybrid_search",
			description: "Concurrently search multiple collections and merge results.",
			schema:      objSchema(map[string]interface{}{"query": strProp("search text")}, "query"),
			call:        s.disp.HybridSearch,
		},
		{
			name:        "route_search",
			description: "Run the full pipeline and return its local/escalate/context_only routing decision.",
			schema:      objSchema(map[string]interface{}{"query": strProp("search text")}, "query"),
			call:        s.disp.RouteSearch,
		},
		{
			name:        "store_agent_memory",
			description: "Persist an agent-scoped memory item.",
			schema:      objSchema(map[string]interface{}{"key": strProp("memory key"), "value": strProp("memory value")}, "key", "value"),
			call:        s.disp.StoreAgentMemory,
		},
		{
			name:        "recall_agent_memory",
			description: "Retrieve a previously stored agent-scoped memory item.",
			schema:      objSchema(map[string]interface{}{"key": strProp("memory key")}, "key"),
			call:        s.disp.RecallAgentMemory,
		},
		{
			name:        "search_tree",
			description: "Search every collection and return results grouped by collection rather than merged.",
			schema:      objSchema(map[string]interface{}{"query": strProp("search text"), "collections": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "collections to search"}, "limit": map[string]interface{}{"type": "integer", "description": "hits per collection"}}, "query"),
			call:        s.disp.SearchTree,
		},
		{
			name:        "run_harness_eval",
			description: "Run a Ralph harness evaluation task.",
			schema:      objSchema(map[string]interface{}{"prompt": strProp("task prompt")}, "prompt"),
			call:        s.disp.RunHarnessEval,
		},
		{
			name:        "harness_stats",
			description: "Report Ralph engine history stats for a task type/backend.",
			schema:      objSchema(map[string]interface{}{"task_type": strProp("task type"), "backend": strProp("backend name")}),
			call:        s.disp.HarnessStats,
		},
		{
			name:        "learning_feedback",
			description: "Submit feedback that influences the continuous-learning pipeline.",
			schema:      objSchema(map[string]interface{}{"interaction_id": strProp("interaction id"), "feedback": strProp("+1, -1, or 0")}, "interaction_id", "feedback"),
			call:        s.disp.LearningFeedback,
		},
	}

	for _, d := range defs {
		d := d
		if s.reg != nil {
			s.reg.RegisterHandler(d.name, toolregistry.Handler(d.call))
		}
		s.mcp.AddTool(mcp.Tool{Name: d.name, Description: d.description, InputSchema: d.schema}, s.wrap(d.name, d.call))
	}
}

// wrap adapts a Dispatcher method into an mcp-go tool handler. When a
// Registry is configured the call is routed through ExecuteTool so it
// gets the same audit trail as the HTTP tool catalog; otherwise it
// calls the Dispatcher method directly.
func (s *Server) wrap(name string, call func(ctx context.Context, args map[string]interface{}) (interface{}, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		var result interface{}
		var err error
		if s.reg != nil {
			result, err = s.reg.ExecuteTool(ctx, "mcp", "mcp-client", name, args)
		} else {
			result, err = call(ctx, args)
		}

		if err != nil {
			s.logger.WarnWithContext(ctx, "mcp tool call failed", logging.Fields{"tool": name, "error": err.Error()})
			return errorResult(err.Error()), nil
		}

		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return errorResult(marshalErr.Error()), nil
		}
		return textResult(string(data)), nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}}}
}
