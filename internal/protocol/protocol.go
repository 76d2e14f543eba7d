package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only accepted jsonrpc version string.
const Version = "2.0"

// Method names handled by the session router.
const (
	MethodInitialize     = "initialize"
	MethodToolsList      = "tools/list"
	MethodToolsCall      = "tools/call"
	MethodToolsCallBatch = "tools/call_batch"
)

// Numeric error codes observed at the wire boundary.
const (
	CodeInitRequired   = -32002
	CodeFrameTooLarge  = -32003
	CodeRateLimited    = -32010
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
	CodeParse          = -32700
)

// Canonical error messages.
const (
	MsgFrameTooLarge  = "frame_too_large"
	MsgRateLimited    = "rate_limited"
	MsgInvalidJSONRPC = "invalid_jsonrpc"
	MsgInitRequired   = "init_required"
	MsgMethodNotFound = "method_not_found"
	MsgParseError     = "parse_error"
)

var ErrMalformedPayload = errors.New("protocol: malformed json payload")

// Request is one decoded wire request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one wire response, correlated to the originating request id.
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      any          `json:"id,omitempty"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// ErrorObject is the wire error shape.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("protocol: rpc error %d: %s", e.Code, e.Message)
}

// InitializeResult is the handshake success payload.
type InitializeResult struct {
	OK bool `json:"ok"`
}

// ToolDescriptor is one entry in a tools/list result.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// CallParams addresses one tool invocation. Either Name ("category.tool"
// or a unique bare tool name) or the explicit Category/Tool pair is set.
type CallParams struct {
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Category  string         `json:"category,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// BatchParams is the tools/call_batch params shape.
type BatchParams struct {
	Calls         []CallParams `json:"calls"`
	MaxConcurrent int          `json:"max_concurrent,omitempty"`
	FailFast      bool         `json:"fail_fast,omitempty"`
}

// DecodeRequest parses one frame payload into a Request. Malformed JSON is
// reported distinctly from frame-level errors.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return req, nil
}

// NewResult builds a success response correlated to id.
func NewResult(id any, result any) Response {
	return Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response correlated to id.
func NewError(id any, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &ErrorObject{Code: code, Message: message}}
}
