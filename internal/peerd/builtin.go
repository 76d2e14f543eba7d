package peerd

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/toolmesh/toolmesh/internal/tools"
)

// builtinDiscoverer feeds the manager's lazy discovery with the tool set
// every serving peer carries out of the box.
type builtinDiscoverer struct{}

func (builtinDiscoverer) Categories(ctx context.Context) ([]string, error) {
	return []string{"system", "util"}, nil
}

func (builtinDiscoverer) Tools(ctx context.Context, category string) ([]tools.Tool, error) {
	switch category {
	case "util":
		return []tools.Tool{echoTool(), timeTool()}, nil
	case "system":
		return []tools.Tool{infoTool()}, nil
	default:
		return nil, nil
	}
}

func echoTool() tools.Tool {
	return tools.Tool{
		Name:        "echo",
		Description: "Returns its arguments unchanged.",
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": true,
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if args == nil {
				return map[string]any{}, nil
			}
			return args, nil
		},
	}
}

func timeTool() tools.Tool {
	return tools.Tool{
		Name:        "time",
		Description: "Returns the peer's current UTC time.",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"utc": time.Now().UTC().Format(time.RFC3339Nano)}, nil
		},
	}
}

func infoTool() tools.Tool {
	return tools.Tool{
		Name:        "info",
		Description: "Returns host and runtime information for this peer.",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			hostname, err := os.Hostname()
			if err != nil {
				hostname = "unknown"
			}
			return map[string]any{
				"hostname": hostname,
				"os":       runtime.GOOS,
				"arch":     runtime.GOARCH,
				"cpus":     runtime.NumCPU(),
			}, nil
		},
	}
}
