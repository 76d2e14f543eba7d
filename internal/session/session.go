package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/toolmesh/toolmesh/internal/observability"
	"github.com/toolmesh/toolmesh/internal/protocol"
	"github.com/toolmesh/toolmesh/internal/protocol/frame"
	"github.com/toolmesh/toolmesh/internal/tools"
)

// Config defines per-session protocol limits.
type Config struct {
	// MaxFramesPerSession caps frames processed over the session lifetime.
	// Zero or below means unrestricted.
	MaxFramesPerSession int64
	FrameLimits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		MaxFramesPerSession: 0,
		FrameLimits:         frame.DefaultLimits(),
	}
}

// Backend is the dispatch surface a session routes tool requests into.
// *tools.Manager satisfies it.
type Backend interface {
	Dispatch(ctx context.Context, category, tool string, args map[string]any) (any, error)
	DispatchParallel(ctx context.Context, calls []tools.Call, opts tools.ParallelOptions) ([]tools.Outcome, error)
	List(ctx context.Context) ([]tools.Info, error)
	ResolveName(ctx context.Context, name string) (string, string, error)
}

// Session is the per-stream protocol state machine. It starts
// uninitialized and transitions to ready on a successful initialize call;
// all state is private to the stream's serving goroutine.
type Session struct {
	id          string
	stream      io.ReadWriter
	backend     Backend
	cfg         Config
	limiter     *Limiter
	initialized bool
	log         zerolog.Logger
}

func New(stream io.ReadWriter, backend Backend, cfg Config, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		stream:  stream,
		backend: backend,
		cfg:     cfg,
		limiter: NewLimiter(cfg.MaxFramesPerSession),
		log:     logger.With().Str("session", id).Logger(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Serve reads frames until the peer closes the stream, routing each decoded
// request and writing the response back. Frames are processed strictly in
// arrival order. An oversized frame is answered once and ends the session.
func (s *Session) Serve(ctx context.Context) error {
	observability.SessionOpened()
	defer observability.SessionClosed()
	s.log.Debug().Msg("session open")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := frame.ReadFrame(s.stream, s.cfg.FrameLimits)
		if errors.Is(err, io.EOF) {
			s.log.Debug().Int64("frames", s.limiter.Count()).Msg("session closed by peer")
			return nil
		}
		if errors.Is(err, frame.ErrFrameTooLarge) {
			observability.RecordFrame("frame_too_large")
			s.log.Warn().Msg("oversized frame rejected")
			_ = s.write(protocol.NewError(nil, protocol.CodeFrameTooLarge, protocol.MsgFrameTooLarge))
			return err
		}
		if err != nil {
			return err
		}

		resp := s.Handle(ctx, payload)
		if err := s.write(resp); err != nil {
			return err
		}
	}
}

// Handle routes one decoded frame payload and shapes the response.
// Validation order is part of the protocol contract: jsonrpc version,
// then the rate cap, then the handshake gate, then method dispatch.
func (s *Session) Handle(ctx context.Context, payload []byte) protocol.Response {
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		observability.RecordFrame("parse_error")
		return protocol.NewError(nil, protocol.CodeParse, protocol.MsgParseError)
	}

	if req.JSONRPC != protocol.Version {
		observability.RecordFrame("invalid_jsonrpc")
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, protocol.MsgInvalidJSONRPC)
	}

	if !s.limiter.Allow() {
		observability.RecordRateLimited()
		s.log.Warn().Int64("frames", s.limiter.Count()).Msg("session rate limited")
		return protocol.NewError(req.ID, protocol.CodeRateLimited, protocol.MsgRateLimited)
	}

	if !s.initialized && req.Method != protocol.MethodInitialize {
		observability.RecordFrame("init_required")
		return protocol.NewError(req.ID, protocol.CodeInitRequired, protocol.MsgInitRequired)
	}

	observability.RecordFrame("ok")
	switch req.Method {
	case protocol.MethodInitialize:
		// Idempotent; params carry a capabilities object that is not
		// negotiated yet.
		s.initialized = true
		return protocol.NewResult(req.ID, protocol.InitializeResult{OK: true})
	case protocol.MethodToolsList:
		return s.handleList(ctx, req)
	case protocol.MethodToolsCall:
		return s.handleCall(ctx, req)
	case protocol.MethodToolsCallBatch:
		return s.handleBatch(ctx, req)
	default:
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, protocol.MsgMethodNotFound)
	}
}

func (s *Session) handleList(ctx context.Context, req protocol.Request) protocol.Response {
	list, err := s.backend.List(ctx)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeInternal, err.Error())
	}
	descriptors := make([]protocol.ToolDescriptor, 0, len(list))
	for _, info := range list {
		descriptors = append(descriptors, protocol.ToolDescriptor{
			Name:        info.Name,
			Category:    info.Category,
			Description: info.Description,
			InputSchema: info.InputSchema,
		})
	}
	return protocol.NewResult(req.ID, descriptors)
}

func (s *Session) handleCall(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.CallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "invalid_params")
		}
	}

	call, err := s.resolveCall(ctx, params)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeInternal, err.Error())
	}

	start := time.Now()
	value, err := s.backend.Dispatch(ctx, call.Category, call.Tool, call.Params)
	observability.RecordDispatch(call.Category, call.Tool, time.Since(start), err == nil)
	if err != nil {
		s.log.Warn().
			Str("category", call.Category).
			Str("tool", call.Tool).
			Err(err).
			Msg("dispatch failed")
		return protocol.NewError(req.ID, protocol.CodeInternal, err.Error())
	}
	return protocol.NewResult(req.ID, value)
}

func (s *Session) handleBatch(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.BatchParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "invalid_params")
		}
	}

	calls := make([]tools.Call, 0, len(params.Calls))
	for _, cp := range params.Calls {
		call, err := s.resolveCall(ctx, cp)
		if err != nil {
			return protocol.NewError(req.ID, protocol.CodeInternal, err.Error())
		}
		calls = append(calls, call)
	}

	outcomes, err := s.backend.DispatchParallel(ctx, calls, tools.ParallelOptions{
		MaxConcurrent: params.MaxConcurrent,
		FailFast:      params.FailFast,
	})
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeInternal, err.Error())
	}
	return protocol.NewResult(req.ID, outcomes)
}

func (s *Session) resolveCall(ctx context.Context, params protocol.CallParams) (tools.Call, error) {
	categoryName, toolName := params.Category, params.Tool
	if categoryName == "" || toolName == "" {
		var err error
		categoryName, toolName, err = s.backend.ResolveName(ctx, params.Name)
		if err != nil {
			return tools.Call{}, err
		}
	}
	args := params.Arguments
	if args == nil {
		args = params.Params
	}
	return tools.Call{Category: categoryName, Tool: toolName, Params: args}, nil
}

func (s *Session) write(resp protocol.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return frame.WriteFrame(s.stream, payload, s.cfg.FrameLimits)
}
