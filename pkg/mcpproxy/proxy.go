// Package mcpproxy owns a child MCP server process and speaks JSON-RPC
// over its stdio. A caller holding the gateway's Authorize result calls
// Forward for an allowed request and DeniedResponse (no subprocess
// interaction at all) for a denied one; pkg/gateway itself does not use
// this package. Everything about how the child process is supervised is
// this package's concern, not the gateway's.
package mcpproxy

import "context"

// Proxy forwards allowed JSON-RPC requests to a backing MCP server and
// synthesizes denial responses for ones the gateway rejected.
type Proxy interface {
	// Start launches (or connects to) the backing server. Forward must
	// not be called before Start returns successfully.
	Start(ctx context.Context) error

	// Stop tears down the backing server and releases its resources.
	Stop(ctx context.Context) error

	// Forward sends req to the backing server and returns its response.
	// Only ever called for requests the gateway has already authorized.
	Forward(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error)
}
