package tools

import "context"

// Handler is the function signature for tool implementations.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one registered callable within a category.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Info is the flattened listing shape for one tool.
type Info struct {
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Call is the unit of work submitted to Dispatch and DispatchParallel.
type Call struct {
	Category string         `json:"category"`
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params,omitempty"`
}

// Outcome is one per-call result slot from DispatchParallel.
type Outcome struct {
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Discoverer enumerates categories and their tools on first use.
type Discoverer interface {
	Categories(ctx context.Context) ([]string, error)
	Tools(ctx context.Context, category string) ([]Tool, error)
}

// ShutdownReport is the always-well-formed GracefulShutdown result.
type ShutdownReport struct {
	Status            string `json:"status"`
	CategoriesCleared int    `json:"categories_cleared"`
}
