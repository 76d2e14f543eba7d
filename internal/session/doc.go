// Package session owns per-stream protocol state.
//
// Ownership boundary:
// - initialize handshake gate
// - per-session frame-rate cap
// - request routing into the tool registry
// - the read/route/reply loop for one stream
package session
