// Package canon produces the deterministic, RFC-8785-style JSON encoding
// that capability, frame, and ratchet-handshake signatures are computed
// over. Two semantically identical documents must canonicalize to
// byte-identical output, and the canonicalizer must refuse any input whose
// meaning is ambiguous (duplicate object keys) or that carries a
// floating-point number or a null value.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/jsoncanonicalizer"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// Marshal encodes v as JSON and reduces it to RFC 8785 canonical form:
// object keys sorted lexicographically by UTF-16 code unit, no
// insignificant whitespace, and the shortest round-trippable number
// representation. v must marshal to a JSON object or array; scalars are
// rejected since nothing in Talos signs a bare scalar.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrCanonicalization, "marshal value to json", err)
	}
	return Canonicalize(raw)
}

// Canonicalize reduces already-encoded JSON bytes to RFC 8785 canonical
// form. It rejects input containing duplicate object keys, since the
// canonical form of such input is not well-defined and silently picking
// "last key wins" would let a sender mean one thing and a verifier compute
// a signature over another. It also rejects floating-point numbers and
// null values anywhere in the document: a constraint value must be an
// integer, string, bool, object, or array, and there is no canonical
// float representation safe to sign across encoders.
func Canonicalize(raw []byte) ([]byte, error) {
	if err := rejectInvalidValues(raw); err != nil {
		return nil, err
	}
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrCanonicalization, "canonicalize json", err)
	}
	return out, nil
}

// SignableBytes returns the canonical bytes of v with its sigField
// removed (if present), i.e. exactly what a signer signs and a verifier
// re-derives and compares the signature against. Callers pass the JSON tag
// name of their signature field ("sig" for capabilities and frames).
func SignableBytes(v any, sigField string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrCanonicalization, "marshal value to json", err)
	}
	stripped, err := stripField(raw, sigField)
	if err != nil {
		return nil, err
	}
	return Canonicalize(stripped)
}

// stripField removes a top-level field from a JSON object's raw bytes.
func stripField(raw []byte, field string) ([]byte, error) {
	var m map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, talerrors.NewError(talerrors.ErrCanonicalization, "decode json object", err)
	}
	delete(m, field)
	out, err := json.Marshal(m)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrCanonicalization, "re-marshal stripped object", err)
	}
	return out, nil
}

// rejectInvalidValues walks raw as a token stream and fails if any JSON
// object in it (at any nesting depth) repeats a key, or if any value is
// a floating-point number or null.
func rejectInvalidValues(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return checkValue(dec)
}

func checkValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return talerrors.NewError(talerrors.ErrCanonicalization, "parse json", err)
	}
	if tok == nil {
		return talerrors.NewError(talerrors.ErrCanonicalization, "null value not permitted", nil)
	}
	if num, ok := tok.(json.Number); ok {
		if strings.ContainsAny(num.String(), ".eE") {
			return talerrors.NewError(talerrors.ErrCanonicalization, fmt.Sprintf("floating-point value not permitted: %s", num.String()), nil)
		}
		return nil
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return talerrors.NewError(talerrors.ErrCanonicalization, "parse json object key", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return talerrors.NewError(talerrors.ErrCanonicalization, "non-string object key", nil)
			}
			if _, dup := seen[key]; dup {
				return talerrors.NewError(talerrors.ErrCanonicalization, fmt.Sprintf("duplicate object key %q", key), nil)
			}
			seen[key] = struct{}{}
			if err := checkValue(dec); err != nil {
				return err
			}
		}
		_, err := dec.Token() // consume '}'
		return err
	case '[':
		for dec.More() {
			if err := checkValue(dec); err != nil {
				return err
			}
		}
		_, err := dec.Token() // consume ']'
		return err
	}
	return nil
}
