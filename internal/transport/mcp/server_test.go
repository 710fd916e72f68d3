package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
)

type stubController struct {
	startErr error
	started  []string
	stopped int
	annot   map[int64]string
}

func (c *stubController) Status(reqID string) protocol.StatusMsg {
	return protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, ReqID: reqID, State: "idle"}
}

func (c *stubController) StartConfig(_ context.Context, raw []byte, _, _ bool) (string, error) {
	if c.startErr != nil {
		return "", c.startErr
	}
	if !json.Valid(raw) {
		return "", search.ErrInvalidJob
	}
	c.started = append(c.started, string(raw))
	return "run-1", nil
}

func (c *stubController) Stop() { c.stopped++ }

func (c *stubController) Results(_ context.Context, runID string) ([]search.Result, error) {
	if runID == "missing" {
		return nil, nil
	}
	return []search.Result{{RunID: "run-1", Seed: 7}}, nil
}

func (c *stubController) Annotate(_ context.Context, runID string, seed int64, text string) error {
	if runID != "run-1" {
		return errors.New("not found")
	}
	if c.annot == nil {
		c.annot = map[int64]string{}
	}
	c.annot[seed] = text
	return nil
}

func rpcPost(t *testing.T, base string, payload any, headers map[string]string) (int, reply) {
	t.Helper()
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", base+"/mcp", bytes.NewReader(b))
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var out reply
	if res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return res.StatusCode, out
}

func newTestServer(t *testing.T, ctrl Controller, secret string) *httptest.Server {
	t.Helper()
	s, err := NewServer(Config{Controller: ctrl, HMACSecret: secret})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestMCP_Initialize_And_ListTools(t *testing.T) {
	ts := newTestServer(t, &stubController{}, "")

	_, initResp := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, nil)
	if initResp.Error != nil {
		t.Fatalf("initialize error: %+v", initResp.Error)
	}
	rm, _ := initResp.Result.(map[string]any)
	if rm["protocolVersion"] == "" {
		t.Fatalf("missing protocolVersion in result")
	}

	_, lt := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "list_tools"}, nil)
	if lt.Error != nil {
		t.Fatalf("list_tools error: %+v", lt.Error)
	}
	rm2, _ := lt.Result.(map[string]any)
	tools, ok := rm2["tools"].([]any)
	if !ok || len(tools) != 5 {
		t.Fatalf("tools=%v", rm2["tools"])
	}
}

func TestMCP_CallTools(t *testing.T) {
	ctrl := &stubController{}
	ts := newTestServer(t, ctrl, "")
	call := func(name string, args any) reply {
		_, r := rpcPost(t, ts.URL, map[string]any{
			"jsonrpc": "2.0", "id": 1, "method": "call_tool",
			"params": map[string]any{"name": name, "arguments": args},
		}, nil)
		return r
	}

	r := call("seedcraft.start", map[string]any{"config": map[string]any{"start_seed": 1}})
	if r.Error != nil {
		t.Fatalf("start: %+v", r.Error)
	}
	if m, _ := r.Result.(map[string]any); m["run_id"] != "run-1" || len(ctrl.started) != 1 {
		t.Fatalf("start result=%v started=%v", r.Result, ctrl.started)
	}
	if r := call("seedcraft.start", map[string]any{}); r.Error == nil || r.Error.Code != codeInvalidParams {
		t.Fatalf("start without config: %+v", r.Error)
	}

	r = call("seedcraft.results", map[string]any{"run_id": "missing"})
	if m, _ := r.Result.(map[string]any); r.Error != nil || len(m["results"].([]any)) != 0 {
		t.Fatalf("results: %+v %v", r.Error, r.Result)
	}
	if r := call("seedcraft.annotate", map[string]any{"run_id": "run-1", "seed": 7, "text": "island"}); r.Error != nil {
		t.Fatalf("annotate: %+v", r.Error)
	}
	if ctrl.annot[7] != "island" {
		t.Fatalf("annotations=%v", ctrl.annot)
	}
	if r := call("seedcraft.stop", map[string]any{}); r.Error != nil || ctrl.stopped != 1 {
		t.Fatalf("stop: %+v stopped=%d", r.Error, ctrl.stopped)
	}
	if r := call("nope", map[string]any{}); r.Error == nil || r.Error.Code != codeMethodNotFound {
		t.Fatalf("expected tool not found, got %+v", r.Error)
	}
}

func TestMCP_StartFailureCodes(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		code  int
		proto string
	}{
		{"invalid job", fmt.Errorf("%w: no conditions", search.ErrInvalidJob), codeInvalidParams, protocol.ErrInvalidJob},
		{"busy", search.ErrBusy, codeToolFailed, protocol.ErrBusy},
		{"other", errors.New("disk full"), codeToolFailed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubController{startErr: tc.err}, "")
			_, r := rpcPost(t, ts.URL, map[string]any{
				"jsonrpc": "2.0", "id": 1, "method": "tools/call",
				"params": map[string]any{"name": "seedcraft.start", "arguments": map[string]any{"config": map[string]any{}}},
			}, nil)
			if r.Error == nil || r.Error.Code != tc.code {
				t.Fatalf("error: %+v", r.Error)
			}
			data, _ := r.Error.Data.(map[string]any)
			if got, _ := data["code"].(string); got != tc.proto {
				t.Fatalf("data code: got %q want %q", got, tc.proto)
			}
		})
	}
}

func TestMCP_HMACAndReplay(t *testing.T) {
	secret := "topsecret"
	ts := newTestServer(t, &stubController{}, secret)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "list_tools"})
	tsStr := strconv.FormatInt(time.Now().UnixMilli(), 10)
	headers := map[string]string{
		headerClientID:  "client_1",
		headerTS:        tsStr,
		headerNonce:     "n1",
		headerSignature: signHMAC([]byte(secret), canonicalString(tsStr, "POST", "/mcp", "client_1", "n1", body)),
	}

	if code, _ := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "list_tools"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("unsigned: status=%d", code)
	}
	code, resp := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "list_tools"}, headers)
	if code != http.StatusOK || resp.Error != nil {
		t.Fatalf("signed: status=%d err=%+v", code, resp.Error)
	}
	if code, _ := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "list_tools"}, headers); code != http.StatusUnauthorized {
		t.Fatalf("replay: status=%d", code)
	}
}

func TestIsLoopback(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:9":     false,
		"localhost":      true,
	} {
		if got := isLoopback(addr); got != want {
			t.Fatalf("isLoopback(%q)=%v want %v", addr, got, want)
		}
	}
}
