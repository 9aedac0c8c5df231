package mcpproxy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

func TestDeniedResponseCarriesDenialReason(t *testing.T) {
	req := JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`"req-1"`), Method: "tools/call"}

	resp := DeniedResponse(req, talerrors.DenialRateLimited)

	require.NotNil(t, resp.Error)
	assert.Equal(t, json.RawMessage(`"req-1"`), resp.ID)
	assert.Equal(t, denialErrorCode, resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, "rate_limited", resp.Error.Data.DenialReason)
	assert.Nil(t, resp.Result)
}

func TestDeniedResponsePreservesRequestID(t *testing.T) {
	req := JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`42`)}
	resp := DeniedResponse(req, talerrors.DenialExpired)
	assert.Equal(t, json.RawMessage(`42`), resp.ID)
}
