package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestCanonicalizeStripsWhitespace(t *testing.T) {
	out, err := Canonicalize([]byte("{\n  \"a\" : 1\n}"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(out))
}

func TestCanonicalizeIsOrderIndependent(t *testing.T) {
	a, err := Canonicalize([]byte(`{"scope":["x"],"issuer":"did:talos:abc"}`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"issuer":"did:talos:abc","scope":["x"]}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeRejectsDuplicateKeys(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1,"a":2}`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsNestedDuplicateKeys(t *testing.T) {
	_, err := Canonicalize([]byte(`{"outer":{"a":1,"a":2}}`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsDuplicateKeysInArray(t *testing.T) {
	_, err := Canonicalize([]byte(`[{"a":1},{"b":2,"b":3}]`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsFloat(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1.5}`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsExponentNotation(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1e10}`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsNestedFloat(t *testing.T) {
	_, err := Canonicalize([]byte(`{"outer":{"a":0.1}}`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsFloatInArray(t *testing.T) {
	_, err := Canonicalize([]byte(`[1, 2.5, 3]`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsNull(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":null}`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsTopLevelNull(t *testing.T) {
	_, err := Canonicalize([]byte(`null`))
	assert.Error(t, err)
}

func TestCanonicalizeAcceptsIntegers(t *testing.T) {
	out, err := Canonicalize([]byte(`{"a":1,"b":-5,"c":0}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":-5,"c":0}`, string(out))
}

func TestMarshalRejectsFloatConstraint(t *testing.T) {
	_, err := Marshal(map[string]any{"max_amount": 1.5})
	assert.Error(t, err)
}

func TestMarshalRejectsNullConstraint(t *testing.T) {
	_, err := Marshal(map[string]any{"region": nil})
	assert.Error(t, err)
}

type signable struct {
	Issuer  string `json:"issuer"`
	Subject string `json:"subject"`
	Sig     string `json:"sig,omitempty"`
}

func TestSignableBytesExcludesSignatureField(t *testing.T) {
	withSig := signable{Issuer: "did:talos:a", Subject: "did:talos:b", Sig: "deadbeef"}
	withoutSig := signable{Issuer: "did:talos:a", Subject: "did:talos:b"}

	a, err := SignableBytes(withSig, "sig")
	require.NoError(t, err)
	b, err := SignableBytes(withoutSig, "sig")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotContains(t, string(a), "deadbeef")
}

func TestMarshalIsDeterministicAcrossFieldOrder(t *testing.T) {
	out, err := Marshal(map[string]any{"z": 1, "a": 2, "m": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"m":"x","z":1}`, string(out))
}
