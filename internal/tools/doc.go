// Package tools owns the hierarchical tool registry and dispatch runtime.
//
// Ownership boundary:
// - category/tool table and lazy discovery
// - sequential and bounded-parallel dispatch
// - graceful shutdown and registry reset
package tools
