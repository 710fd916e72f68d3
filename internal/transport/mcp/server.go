// Package mcp exposes the search controller as JSON-RPC tools for automation
// clients. Requests are HMAC signed when a secret is configured; without one
// only loopback clients are served.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
)

// Controller is the part of ws.Controller the tools drive.
type Controller interface {
	Status(reqID string) protocol.StatusMsg
	StartConfig(ctx context.Context, raw []byte, resume, saveDefault bool) (string, error)
	Stop()
	Results(ctx context.Context, runID string) ([]search.Result, error)
	Annotate(ctx context.Context, runID string, seed int64, text string) error
}

type Config struct {
	Controller Controller
	HMACSecret string
}

type Server struct {
	ctrl       Controller
	hmacSecret []byte
	replay     *replayGuard
	now        func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("nil controller")
	}
	s := &Server{ctrl: cfg.Controller, now: time.Now}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.replay = newReplayGuard(0)
	}
	return s, nil
}

// Handler serves POST /mcp. Mount it on the caller's mux.
func (s *Server) Handler() http.HandlerFunc { return s.handleMCP }

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	if len(s.hmacSecret) > 0 {
		vr := verifyHMAC(r, body, s.hmacSecret, s.now())
		if vr.HTTPStatus != 0 {
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		if !s.replay.allow(vr.ClientID, vr.Signature, s.now()) {
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		}
	} else if !isLoopback(r.RemoteAddr) {
		http.Error(rw, "forbidden: non-loopback client", http.StatusForbidden)
		return
	}

	req, err := decodeCall(body)
	if err != nil {
		http.Error(rw, "bad jsonrpc request", http.StatusBadRequest)
		return
	}
	resp := s.dispatch(r.Context(), req)
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req call) reply {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "list_tools", "tools/list":
		return result(req.ID, map[string]any{"tools": toolsList()})

	case "call_tool", "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return failure(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return failure(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return failure(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		if !isKnownTool(p.Name) {
			return failure(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		out, err := s.callTool(ctx, p.Name, p.Arguments)
		if err != nil {
			return toolFailure(req.ID, err)
		}
		return result(req.ID, out)
	}
	return failure(req.ID, codeMethodNotFound, "method not found", nil)
}

var noArgs = map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}

func toolsList() []map[string]any {
	return []map[string]any{
		{
			"name":        "seedcraft.status",
			"description": "Current search state, progress, resume point and the saved default config.",
			"inputSchema": noArgs,
		},
		{
			"name":        "seedcraft.start",
			"description": "Start a search from a search config object. Fails while a search is running.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"config":       map[string]any{"type": "object"},
					"resume":       map[string]any{"type": "boolean"},
					"save_default": map[string]any{"type": "boolean"},
				},
				"required": []string{"config"},
			},
		},
		{
			"name":        "seedcraft.stop",
			"description": "Stop the running search. The checkpoint is saved.",
			"inputSchema": noArgs,
		},
		{
			"name":        "seedcraft.results",
			"description": "Stored results, optionally for one run.",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"run_id": map[string]any{"type": "string"}},
			},
		},
		{
			"name":        "seedcraft.annotate",
			"description": "Set the description of a stored result.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"run_id": map[string]any{"type": "string"},
					"seed":   map[string]any{"type": "integer"},
					"text":   map[string]any{"type": "string"},
				},
				"required": []string{"run_id", "seed", "text"},
			},
		},
	}
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "seedcraft.status":
		return s.ctrl.Status(""), nil

	case "seedcraft.start":
		var p struct {
			Config      json.RawMessage `json:"config"`
			Resume      bool            `json:"resume"`
			SaveDefault bool            `json:"save_default"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		if len(p.Config) == 0 {
			return nil, fmt.Errorf("%w: missing config", errArgs)
		}
		runID, err := s.ctrl.StartConfig(ctx, p.Config, p.Resume, p.SaveDefault)
		if err != nil {
			return nil, err
		}
		return map[string]any{"run_id": runID}, nil

	case "seedcraft.stop":
		s.ctrl.Stop()
		return map[string]any{"ok": true}, nil

	case "seedcraft.results":
		var p struct {
			RunID string `json:"run_id"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		rs, err := s.ctrl.Results(ctx, p.RunID)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			rs = []search.Result{}
		}
		return map[string]any{"results": rs}, nil

	case "seedcraft.annotate":
		var p struct {
			RunID string `json:"run_id"`
			Seed  int64  `json:"seed"`
			Text  string `json:"text"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		if p.RunID == "" {
			return nil, fmt.Errorf("%w: missing run_id", errArgs)
		}
		if err := s.ctrl.Annotate(ctx, p.RunID, p.Seed, p.Text); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
	return nil, fmt.Errorf("unknown tool: %s", name)
}

func isKnownTool(name string) bool {
	switch name {
	case "seedcraft.status",
		"seedcraft.start",
		"seedcraft.stop",
		"seedcraft.results",
		"seedcraft.annotate":
		return true
	}
	return false
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
