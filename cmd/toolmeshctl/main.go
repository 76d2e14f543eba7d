package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/toolmesh/toolmesh/internal/client"
	"github.com/toolmesh/toolmesh/internal/protocol"
)

const usage = `usage: toolmeshctl -addr <host:port> <command>

commands:
  list                     list the peer's tools
  call <name> [json-args]  invoke one tool by flattened name
  batch <json-calls>       invoke tools in parallel on the peer
`

func main() {
	addr := flag.String("addr", "127.0.0.1:9200", "peer address")
	timeout := flag.Duration("timeout", 10*time.Second, "per-call timeout")
	maxConcurrent := flag.Int("max-concurrent", 0, "batch concurrency cap (0 = peer default)")
	failFast := flag.Bool("fail-fast", false, "abort a batch on the first failure")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, *addr, client.Options{Timeout: *timeout})
	if err != nil {
		fail(err)
	}
	defer c.Close()

	if err := c.Initialize(ctx); err != nil {
		fail(err)
	}

	switch args[0] {
	case "list":
		list, err := c.ListTools(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(list)
	case "call":
		if len(args) < 2 {
			fail(fmt.Errorf("call requires a tool name"))
		}
		callArgs, err := parseArgs(args[2:])
		if err != nil {
			fail(err)
		}
		result, err := c.CallTool(ctx, args[1], callArgs)
		if err != nil {
			fail(err)
		}
		printRaw(result)
	case "batch":
		if len(args) < 2 {
			fail(fmt.Errorf("batch requires a JSON call list"))
		}
		var calls []protocol.CallParams
		if err := json.Unmarshal([]byte(args[1]), &calls); err != nil {
			fail(fmt.Errorf("parse calls: %w", err))
		}
		result, err := c.CallBatch(ctx, calls, *maxConcurrent, *failFast)
		if err != nil {
			fail(err)
		}
		printRaw(result)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func parseArgs(rest []string) (map[string]any, error) {
	if len(rest) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(rest[0]), &out); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	return out, nil
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(raw))
}

func printRaw(raw json.RawMessage) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	printJSON(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "toolmeshctl: %v\n", err)
	os.Exit(1)
}
