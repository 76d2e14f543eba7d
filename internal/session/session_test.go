package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolmesh/toolmesh/internal/protocol"
	"github.com/toolmesh/toolmesh/internal/protocol/frame"
	"github.com/toolmesh/toolmesh/internal/testutil/testlog"
	"github.com/toolmesh/toolmesh/internal/tools"
)

// spyBackend counts calls so tests can assert that rejected requests never
// reach the dispatch layer.
type spyBackend struct {
	dispatchCalls atomic.Int64
	listCalls     atomic.Int64
	batchCalls    atomic.Int64
	fail          error
}

func (b *spyBackend) Dispatch(ctx context.Context, category, tool string, args map[string]any) (any, error) {
	b.dispatchCalls.Add(1)
	if b.fail != nil {
		return nil, b.fail
	}
	return args, nil
}

func (b *spyBackend) DispatchParallel(ctx context.Context, calls []tools.Call, opts tools.ParallelOptions) ([]tools.Outcome, error) {
	b.batchCalls.Add(1)
	out := make([]tools.Outcome, len(calls))
	for i, call := range calls {
		out[i] = tools.Outcome{Status: tools.StatusOK, Value: call.Params}
	}
	return out, nil
}

func (b *spyBackend) List(ctx context.Context) ([]tools.Info, error) {
	b.listCalls.Add(1)
	return []tools.Info{{Name: "echo", Category: "util", Description: "echo"}}, nil
}

func (b *spyBackend) ResolveName(ctx context.Context, name string) (string, string, error) {
	if name == "echo" || name == "util.echo" {
		return "util", "echo", nil
	}
	return "", "", fmt.Errorf("%w: %q", tools.ErrUnknownTool, name)
}

func newTestSession(t *testing.T, backend Backend, cfg Config) *Session {
	t.Helper()
	testlog.Start(t)
	return New(nil, backend, cfg, zerolog.Nop())
}

func request(t *testing.T, id any, method string, params any) []byte {
	t.Helper()
	req := map[string]any{"jsonrpc": protocol.Version, "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return raw
}

func TestInitRequiredBeforeInitialize(t *testing.T) {
	backend := &spyBackend{}
	s := newTestSession(t, backend, DefaultConfig())

	resp := s.Handle(context.Background(), request(t, 1, protocol.MethodToolsCall, map[string]any{"name": "echo"}))
	if resp.Error == nil || resp.Error.Message != protocol.MsgInitRequired {
		t.Fatalf("expected init_required, got %+v", resp)
	}
	if backend.dispatchCalls.Load() != 0 {
		t.Fatalf("dispatch ran before handshake")
	}

	resp = s.Handle(context.Background(), request(t, 2, protocol.MethodToolsList, nil))
	if resp.Error == nil || resp.Error.Message != protocol.MsgInitRequired {
		t.Fatalf("expected init_required for tools/list, got %+v", resp)
	}
	if backend.listCalls.Load() != 0 {
		t.Fatalf("list ran before handshake")
	}
}

func TestInvalidJSONRPCRunsFirst(t *testing.T) {
	backend := &spyBackend{}
	s := newTestSession(t, backend, Config{MaxFramesPerSession: 1, FrameLimits: frame.DefaultLimits()})

	// Bad version on an uninitialized session: version check wins over the
	// handshake gate and must not consume rate budget.
	raw := []byte(`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	resp := s.Handle(context.Background(), raw)
	if resp.Error == nil || resp.Error.Message != protocol.MsgInvalidJSONRPC {
		t.Fatalf("expected invalid_jsonrpc, got %+v", resp)
	}

	// The single budgeted frame is still available for initialize.
	resp = s.Handle(context.Background(), request(t, 2, protocol.MethodInitialize, nil))
	if resp.Error != nil {
		t.Fatalf("initialize consumed by invalid request: %+v", resp.Error)
	}
}

func TestRateLimitCapsSessionLifetime(t *testing.T) {
	backend := &spyBackend{}
	s := newTestSession(t, backend, Config{MaxFramesPerSession: 3, FrameLimits: frame.DefaultLimits()})

	for i, method := range []string{protocol.MethodInitialize, protocol.MethodToolsList, protocol.MethodToolsList} {
		resp := s.Handle(context.Background(), request(t, i, method, nil))
		if resp.Error != nil {
			t.Fatalf("request %d rejected: %+v", i, resp.Error)
		}
	}

	resp := s.Handle(context.Background(), request(t, 4, protocol.MethodToolsList, nil))
	if resp.Error == nil || resp.Error.Code != protocol.CodeRateLimited {
		t.Fatalf("expected rate_limited code %d, got %+v", protocol.CodeRateLimited, resp)
	}
	if resp.Error.Message != protocol.MsgRateLimited {
		t.Fatalf("expected rate_limited message, got %q", resp.Error.Message)
	}
	if backend.listCalls.Load() != 2 {
		t.Fatalf("rate-limited request reached backend: %d list calls", backend.listCalls.Load())
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := newTestSession(t, &spyBackend{}, DefaultConfig())
	for i := 0; i < 2; i++ {
		resp := s.Handle(context.Background(), request(t, i, protocol.MethodInitialize, map[string]any{"capabilities": map[string]any{}}))
		if resp.Error != nil {
			t.Fatalf("initialize %d failed: %+v", i, resp.Error)
		}
		result, ok := resp.Result.(protocol.InitializeResult)
		if !ok || !result.OK {
			t.Fatalf("initialize %d result: %+v", i, resp.Result)
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	s := newTestSession(t, &spyBackend{}, DefaultConfig())
	if resp := s.Handle(context.Background(), request(t, 1, protocol.MethodInitialize, nil)); resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}
	resp := s.Handle(context.Background(), request(t, 2, "tools/nope", nil))
	if resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
		t.Fatalf("expected method_not_found, got %+v", resp)
	}
}

func TestMalformedPayloadKeepsSessionOpen(t *testing.T) {
	s := newTestSession(t, &spyBackend{}, DefaultConfig())
	resp := s.Handle(context.Background(), []byte(`{"jsonrpc":`))
	if resp.Error == nil || resp.Error.Code != protocol.CodeParse {
		t.Fatalf("expected parse error, got %+v", resp)
	}
	if resp := s.Handle(context.Background(), request(t, 1, protocol.MethodInitialize, nil)); resp.Error != nil {
		t.Fatalf("session unusable after parse error: %+v", resp.Error)
	}
}

func TestCallBatchRoutesToParallelDispatch(t *testing.T) {
	backend := &spyBackend{}
	s := newTestSession(t, backend, DefaultConfig())
	if resp := s.Handle(context.Background(), request(t, 1, protocol.MethodInitialize, nil)); resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}

	params := map[string]any{
		"calls": []map[string]any{
			{"name": "echo", "arguments": map[string]any{"n": 0}},
			{"category": "util", "tool": "echo", "params": map[string]any{"n": 1}},
		},
		"max_concurrent": 2,
	}
	resp := s.Handle(context.Background(), request(t, 2, protocol.MethodToolsCallBatch, params))
	if resp.Error != nil {
		t.Fatalf("batch: %+v", resp.Error)
	}
	outcomes, ok := resp.Result.([]tools.Outcome)
	if !ok || len(outcomes) != 2 {
		t.Fatalf("unexpected batch result: %#v", resp.Result)
	}
	if backend.batchCalls.Load() != 1 {
		t.Fatalf("expected one parallel dispatch, got %d", backend.batchCalls.Load())
	}
}

// wire-level tests run a real manager behind a served session over net.Pipe.

func echoManager(t *testing.T) *tools.Manager {
	t.Helper()
	m := tools.NewManager(nil)
	err := m.Register("util", tools.Tool{
		Name:        "echo",
		Description: "returns its arguments unchanged",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	})
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return m
}

func roundTrip(t *testing.T, conn net.Conn, limits frame.Limits, payload []byte) protocol.Response {
	t.Helper()
	if err := frame.WriteFrame(conn, payload, limits); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := frame.ReadFrame(conn, limits)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServeEchoRoundTrip(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer client.Close()

	cfg := DefaultConfig()
	s := New(server, echoManager(t), cfg, zerolog.Nop())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background())
		server.Close()
	}()

	resp := roundTrip(t, client, cfg.FrameLimits, request(t, 1, protocol.MethodInitialize, nil))
	if resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}

	resp = roundTrip(t, client, cfg.FrameLimits, request(t, 2, protocol.MethodToolsList, nil))
	if resp.Error != nil {
		t.Fatalf("tools/list: %+v", resp.Error)
	}
	listing, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal listing: %v", err)
	}
	var descriptors []protocol.ToolDescriptor
	if err := json.Unmarshal(listing, &descriptors); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].Name != "echo" {
		t.Fatalf("echo missing from listing: %+v", descriptors)
	}

	resp = roundTrip(t, client, cfg.FrameLimits, request(t, 3, protocol.MethodToolsCall, map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"text": "hi"},
	}))
	if resp.Error != nil {
		t.Fatalf("tools/call: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || len(result) != 1 || result["text"] != "hi" {
		t.Fatalf("echo result mismatch: %#v", resp.Result)
	}

	client.Close()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestServeOversizedFrameAnsweredOnceThenClosed(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer client.Close()

	cfg := Config{FrameLimits: frame.Limits{MaxFrameBytes: 64}}
	s := New(server, echoManager(t), cfg, zerolog.Nop())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background())
		server.Close()
	}()

	var hdr [frame.HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], 65)
	if _, err := client.Write(hdr[:]); err != nil {
		t.Fatalf("write oversized header: %v", err)
	}

	raw, err := frame.ReadFrame(client, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read error response: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != protocol.CodeFrameTooLarge {
		t.Fatalf("expected frame_too_large %d, got %+v", protocol.CodeFrameTooLarge, resp)
	}

	select {
	case err := <-done:
		if !errors.Is(err, frame.ErrFrameTooLarge) {
			t.Fatalf("serve should report the framing violation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve did not terminate after oversized frame")
	}
}

func TestServeCleanEOF(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	s := New(server, echoManager(t), DefaultConfig(), zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	client.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("clean close should not error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve did not return on close")
	}
}
