package core

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

// sendProtocolError writes a JSON-RPC error object with the given HTTP
// status. Protocol-level failures (bad headers, unknown sessions) live at
// the HTTP layer; JSON-RPC-level errors ride inside a 200.
func (s *Server) sendProtocolError(c *gin.Context, id any, status int, code int, message string) {
	c.JSON(status, mcp.NewErrorResponse(id, code, message))
}

// sendSuccessResponse writes a JSON-RPC result as a single SSE-framed
// message, the framing POST clients negotiated for via Accept.
func (s *Server) sendSuccessResponse(c *gin.Context, req mcp.JSONRPCRequest, result any) {
	response := mcp.JSONRPCResponse{
		JSONRPCBaseResult: mcp.JSONRPCBaseResult{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      req.Id,
		},
		Result: result,
	}
	data, err := json.Marshal(response)
	if err != nil {
		s.sendProtocolError(c, req.Id, http.StatusInternalServerError,
			mcp.ErrorCodeInternalError, "failed to encode response")
		return
	}
	writeSSEHeaders(c)
	fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", data)
	c.Writer.Flush()
}

// sendRPCError writes a JSON-RPC error inside a 200 SSE frame, for failures
// that belong to the method call rather than the HTTP exchange.
func (s *Server) sendRPCError(c *gin.Context, id any, code int, message string) {
	data, err := json.Marshal(mcp.NewErrorResponse(id, code, message))
	if err != nil {
		return
	}
	writeSSEHeaders(c)
	fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", data)
	c.Writer.Flush()
}

// sendToolExecutionError reports a failed tool call as an isError result
// rather than a JSON-RPC error, so clients can surface the text to users.
func (s *Server) sendToolExecutionError(c *gin.Context, req mcp.JSONRPCRequest, err error) {
	result := mcp.NewCallToolResultError(fmt.Sprintf("tool execution failed: %v", err))
	s.sendSuccessResponse(c, req, result)
}

func writeSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
}
