package mcpproxy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStdioProxyForwardRoundTrip uses "cat" as the child process: it
// echoes each JSON-RPC request line back unchanged, so Forward can be
// exercised against a real process without depending on any MCP-specific
// binary being present.
func TestStdioProxyForwardRoundTrip(t *testing.T) {
	proxy := NewStdioProxy("cat")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, proxy.Start(ctx))
	defer func() { _ = proxy.Stop(ctx) }()

	req := JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`"req-1"`), Method: "tools/call"}
	resp, err := proxy.Forward(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"req-1"`), resp.ID)
}

func TestStdioProxyForwardMatchesResponsesByID(t *testing.T) {
	proxy := NewStdioProxy("cat")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, proxy.Start(ctx))
	defer func() { _ = proxy.Stop(ctx) }()

	type result struct {
		id  string
		err error
	}
	resultCh := make(chan result, 2)

	for _, id := range []string{`"a"`, `"b"`} {
		id := id
		go func() {
			resp, err := proxy.Forward(ctx, JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(id), Method: "tools/call"})
			if err != nil {
				resultCh <- result{err: err}
				return
			}
			resultCh <- result{id: string(resp.ID)}
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-resultCh
		require.NoError(t, r.err)
		seen[r.id] = true
	}
	assert.True(t, seen[`"a"`])
	assert.True(t, seen[`"b"`])
}

func TestStdioProxyForwardContextTimeout(t *testing.T) {
	// "sleep" never writes a response line, so Forward must return once
	// ctx expires rather than blocking forever.
	proxy := NewStdioProxy("sleep", "5")
	startCtx, cancelStart := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStart()
	require.NoError(t, proxy.Start(startCtx))
	defer func() { _ = proxy.Stop(startCtx) }()

	forwardCtx, cancelForward := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelForward()

	_, err := proxy.Forward(forwardCtx, JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`"req-1"`)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
