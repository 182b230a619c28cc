package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clawinfra/pilink/internal/journal"
	"github.com/clawinfra/pilink/internal/types"
)

// MCP server identity reported by /mcp/info.
const (
	MCPProtocolVersion = "0.1.0"
	MCPServerName      = "pilink-mcp-server"
)

// handleHealth handles GET /api/health. It never requires auth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	loop, _ := s.chatConfig()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"version":              Version,
		"model_configured":     loop != nil,
		"bus_configured":       s.gateway != nil && s.gateway.Configured(),
		"sessions_configured":  s.sessions != nil,
		"journal_configured":   s.journal != nil,
		"scheduler_configured": s.sched != nil,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":       int64(time.Since(s.started).Seconds()),
	})
}

// handleMCPInfo handles GET /mcp/info
func (s *Server) handleMCPInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"protocolVersion": MCPProtocolVersion,
		"serverInfo": map[string]string{
			"name":    MCPServerName,
			"version": Version,
		},
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	})
}

// mcpTool is one entry of GET /mcp/tools.
type mcpTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// handleMCPTools handles GET /mcp/tools: the contracts offered to the model.
func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	tools := []mcpTool{}
	if loop, _ := s.chatConfig(); loop != nil {
		for _, schema := range loop.Tools() {
			tools = append(tools, mcpTool{
				Name:        schema.Name,
				Description: schema.Description,
				InputSchema: schema.Parameters(),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

// handleRequests handles GET /api/requests?limit=n&topic=Action
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal not enabled")
		return
	}

	limit := journal.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	topic := types.Topic(r.URL.Query().Get("topic"))
	switch topic {
	case "", types.TopicAction, types.TopicTelemetry:
	default:
		writeError(w, http.StatusBadRequest, "topic must be Action or Telemetry")
		return
	}

	entries, err := s.journal.Recent(r.Context(), topic, limit)
	if err != nil {
		s.logger.Error("read journal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	totals, err := s.journal.Counts(r.Context())
	if err != nil {
		s.logger.Error("count journal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": entries,
		"count":    len(entries),
		"totals":   totals,
	})
}
