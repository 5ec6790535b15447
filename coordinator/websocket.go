package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/toolregistry"
)

// wsUpgrader's origin checking follows the same CORS configuration the HTTP surface
// uses, so a browser client authorized for one is authorized for both.
func (c *Coordinator) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if !c.cfg.CORS.Enabled {
				return true
			}
			return isOriginAllowed(r.Header.Get("Origin"), c.cfg.CORS.AllowedOrigins)
		},
	}
}

// wsRequest is the inbound message envelope for the WebSocket
// surface: a subset of HTTP actions authenticated per-message via
// api_key rather than a header, since a single connection may outlive
// any one request's auth context.
type wsRequest struct {
	Type    string                 `json:"type"`
	APIKey  string                 `json:"api_key"`
	Args    map[string]interface{} `json:"args"`
	ReplyTo string                 `json:"reply_to,omitempty"`
}

type wsResponse struct {
	Type    string      `json:"type"`
	ReplyTo string      `json:"reply_to,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleWebSocket upgrades the connection and serves the documented
// subset of HTTP actions (discover_tools, run_sandboxed,
// semantic_search, discover_skills, import_skill, list_skills,
// get_skill) over a single bidirectional socket, rate-limited per
// client_id the same way HTTP requests are rate-limited per IP.
func (c *Coordinator) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := c.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	defer conn.Close()

	clientID := fmt.Sprintf("%p", conn)
	_ = conn.WriteJSON(wsResponse{Type: "connected", Data: map[string]string{"client_id": clientID}})

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		if c.cfg.RateLimiter != nil {
			if allowed, _, _ := c.cfg.RateLimiter.AllowAt(clientID, time.Now()); !allowed {
				_ = conn.WriteJSON(wsResponse{Type: "error", ReplyTo: req.ReplyTo, Error: "rate limit exceeded"})
				continue
			}
		}

		if c.cfg.APIKey != "" && req.APIKey != c.cfg.APIKey {
			_ = conn.WriteJSON(wsResponse{Type: "error", ReplyTo: req.ReplyTo, Error: "missing or invalid api_key"})
			continue
		}

		data, err := c.dispatchWSAction(r.Context(), req.Type, req.Args)
		if err != nil {
			_ = conn.WriteJSON(wsResponse{Type: "error", ReplyTo: req.ReplyTo, Error: err.Error()})
			continue
		}
		_ = conn.WriteJSON(wsResponse{Type: req.Type, ReplyTo: req.ReplyTo, Data: data})
	}
}

func (c *Coordinator) dispatchWSAction(ctx context.Context, action string, args map[string]interface{}) (interface{}, error) {
	disp := dispatcher{c}

	switch action {
	case "discover_tools":
		if c.cfg.Tools == nil {
			return []interface{}{}, nil
		}
		return c.cfg.Tools.GetTools(toolregistry.DisclosureMinimal, false)
	case "run_sandboxed":
		name, _ := args["name"].(string)
		params, _ := args["params"].(map[string]interface{})
		if c.cfg.Tools == nil {
			return nil, fmt.Errorf("tool registry not configured")
		}
		return c.cfg.Tools.ExecuteTool(ctx, "websocket", "ws-client", name, params)
	case "semantic_search":
		return disp.SearchContext(ctx, args)
	case "discover_skills":
		status, _ := args["status"].(string)
		if c.cfg.Tools == nil {
			return []interface{}{}, nil
		}
		return c.cfg.Tools.ListSkills(status), nil
	case "import_skill":
		content, _ := args["content"].(string)
		if c.cfg.Tools == nil {
			return nil, fmt.Errorf("tool registry not configured")
		}
		return c.cfg.Tools.ImportSkillFromMarkdown(content)
	case "list_skills":
		status, _ := args["status"].(string)
		if c.cfg.Tools == nil {
			return []interface{}{}, nil
		}
		return c.cfg.Tools.ListSkills(status), nil
	case "get_skill":
		slug, _ := args["slug"].(string)
		if c.cfg.Tools == nil {
			return nil, fmt.Errorf("tool registry not configured")
		}
		skill, ok := c.cfg.Tools.GetSkill(slug)
		if !ok {
			return nil, fmt.Errorf("skill not found: %s", slug)
		}
		return skill, nil
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}
