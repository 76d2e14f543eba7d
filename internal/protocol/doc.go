// Package protocol owns the wire contract for tool RPC streams.
//
// Ownership boundary:
// - request/response envelope shapes
// - error codes and canonical error messages
// - request decode entry point
package protocol
