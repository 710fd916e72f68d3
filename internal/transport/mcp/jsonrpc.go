package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
)

// call is one JSON-RPC 2.0 request from an MCP client.
type call struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *replyError     `json:"error,omitempty"`
}

type replyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeToolFailed     = -32000
)

// errArgs marks malformed tool arguments.
var errArgs = errors.New("bad arguments")

func decodeCall(body []byte) (call, error) {
	var c call
	if err := json.Unmarshal(body, &c); err != nil {
		return call{}, err
	}
	if c.JSONRPC != "" && c.JSONRPC != "2.0" {
		return call{}, fmt.Errorf("unsupported jsonrpc version %q", c.JSONRPC)
	}
	if c.Method == "" {
		return call{}, fmt.Errorf("missing method")
	}
	return c, nil
}

// decodeArgs fills v from tool arguments. Absent arguments leave v zero.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errArgs, err)
	}
	return nil
}

func result(id json.RawMessage, v any) reply {
	return reply{JSONRPC: "2.0", ID: id, Result: v}
}

func failure(id json.RawMessage, code int, msg string, data any) reply {
	return reply{JSONRPC: "2.0", ID: id, Error: &replyError{Code: code, Message: msg, Data: data}}
}

// toolFailure reports a failed tool call. Argument and job validation errors
// are invalid params; the rest carry the websocket protocol's error code.
func toolFailure(id json.RawMessage, err error) reply {
	switch {
	case errors.Is(err, errArgs):
		return failure(id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, search.ErrInvalidJob):
		return failure(id, codeInvalidParams, err.Error(), map[string]any{"code": protocol.ErrInvalidJob})
	case errors.Is(err, search.ErrBusy):
		return failure(id, codeToolFailed, err.Error(), map[string]any{"code": protocol.ErrBusy})
	}
	return failure(id, codeToolFailed, err.Error(), nil)
}
