// Package client dials a serving peer and speaks the framed tool RPC
// protocol from the initiating side.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/toolmesh/toolmesh/internal/protocol"
	"github.com/toolmesh/toolmesh/internal/protocol/frame"
)

// Options configures one client connection.
type Options struct {
	Timeout     time.Duration
	FrameLimits frame.Limits
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FrameLimits.MaxFrameBytes == 0 {
		o.FrameLimits = frame.DefaultLimits()
	}
	return o
}

// Client is one protocol stream from the initiating side. Calls are
// strictly sequential per client.
type Client struct {
	conn net.Conn
	opts Options
	seq  atomic.Int64
}

func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, opts: opts}, nil
}

// NewWithConn wraps an already-established stream, e.g. one handed over by
// an external peer transport.
func NewWithConn(conn net.Conn, opts Options) *Client {
	return &Client{conn: conn, opts: opts.withDefaults()}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Initialize performs the required handshake. It must complete before any
// other call; the server rejects everything else until then.
func (c *Client) Initialize(ctx context.Context) error {
	raw, err := c.call(ctx, protocol.MethodInitialize, map[string]any{"capabilities": map[string]any{}})
	if err != nil {
		return err
	}
	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("client: initialize result: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("client: handshake not acknowledged")
	}
	return nil
}

func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	raw, err := c.call(ctx, protocol.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var list []protocol.ToolDescriptor
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("client: tools/list result: %w", err)
	}
	return list, nil
}

// CallTool invokes one tool by flattened name ("category.tool" or a unique
// bare name) and returns the raw tool-defined result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.call(ctx, protocol.MethodToolsCall, protocol.CallParams{Name: name, Arguments: args})
}

// CallBatch submits calls for bounded-parallel execution on the peer.
func (c *Client) CallBatch(ctx context.Context, calls []protocol.CallParams, maxConcurrent int, failFast bool) (json.RawMessage, error) {
	return c.call(ctx, protocol.MethodToolsCallBatch, protocol.BatchParams{
		Calls:         calls,
		MaxConcurrent: maxConcurrent,
		FailFast:      failFast,
	})
}

// wireResponse keeps Result raw so callers decode into their own shapes.
type wireResponse struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      json.RawMessage       `json:"id,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *protocol.ErrorObject `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := protocol.Request{
		JSONRPC: protocol.Version,
		ID:      c.seq.Add(1),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("client: marshal params: %w", err)
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: marshal request: %w", err)
	}

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = c.conn.SetWriteDeadline(deadline)
	if err := frame.WriteFrame(c.conn, payload, c.opts.FrameLimits); err != nil {
		return nil, fmt.Errorf("client: write: %w", err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	raw, err := frame.ReadFrame(c.conn, c.opts.FrameLimits)
	if err != nil {
		return nil, fmt.Errorf("client: read: %w", err)
	}

	var resp wireResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
