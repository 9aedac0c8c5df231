package mcpproxy

import (
	"encoding/json"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// JSONRPCRequest is the subset of the JSON-RPC 2.0 request envelope the
// proxy needs to forward or deny a tool call.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is the subset of the JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC error object, with Data carrying the
// authorization denial_reason when the error was synthesized locally
// rather than returned by the child process.
type JSONRPCError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    *JSONRPCErrorData `json:"data,omitempty"`
}

// JSONRPCErrorData carries a denial_reason in a synthesized denial
// response, in error.data where a client can read it programmatically.
type JSONRPCErrorData struct {
	DenialReason string `json:"denial_reason,omitempty"`
}

// denialErrorCode is used for every synthesized denial response. JSON-RPC
// reserves -32000 to -32099 for implementation-defined server errors.
const denialErrorCode = -32001

// DeniedResponse synthesizes a JSON-RPC error response for req, carrying
// reason in error.data.denial_reason, without ever forwarding req to the
// child process.
func DeniedResponse(req JSONRPCRequest, reason talerrors.DenialReason) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error: &JSONRPCError{
			Code:    denialErrorCode,
			Message: "request denied: " + reason.String(),
			Data:    &JSONRPCErrorData{DenialReason: reason.String()},
		},
	}
}
