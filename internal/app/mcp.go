package app

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// JSON-RPC error codes used by the dispatcher.
const (
	ErrCodeParseError     = -32700
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeToolNotFound   = -32001
	ErrCodeToolExecFailed = -32002
)

// MCPRequest represents an incoming JSON-RPC request.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents a JSON-RPC response.
type MCPResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *MCPError `json:"error,omitempty"`
}

// MCPError is a JSON-RPC error object.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolFunc executes one tool with arguments parsed from the request.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool describes one operation exposed through tools/list and tools/call.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Run         ToolFunc
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// dispatch processes one JSON-RPC request and returns a response.
func (a *App) dispatch(ctx context.Context, req MCPRequest) MCPResponse {
	switch req.Method {
	case "initialize":
		return a.handleInitialize(req.ID)
	case "tools/list":
		return a.handleToolsList(req.ID)
	case "tools/call":
		return a.handleToolsCall(ctx, req.ID, req.Params)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %s not found", req.Method))
	}
}

func (a *App) handleInitialize(id any) MCPResponse {
	return MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		},
	}
}

func (a *App) handleToolsList(id any) MCPResponse {
	tools := make([]map[string]any, 0, len(a.tools))
	for _, tool := range a.tools {
		tools = append(tools, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}
	return MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  map[string]any{"tools": tools},
	}
}

func (a *App) handleToolsCall(ctx context.Context, id any, params json.RawMessage) MCPResponse {
	var call toolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}

	tool, ok := a.toolIndex[call.Name]
	if !ok {
		return errorResponse(id, ErrCodeToolNotFound, fmt.Sprintf("tool %s not found", call.Name))
	}

	result, err := tool.Run(ctx, call.Arguments)
	if err != nil {
		a.log.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		return errorResponse(id, ErrCodeToolExecFailed, err.Error())
	}

	text, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, ErrCodeInternal, err.Error())
	}
	return MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": string(text)},
			},
		},
	}
}

func errorResponse(id any, code int, message string) MCPResponse {
	return MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: message},
	}
}
