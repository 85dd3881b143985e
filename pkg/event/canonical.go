package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Canonical returns the RFC 8785 (JCS) byte form of the event minus the hash
// field: keys sorted, minimal escaping, ES6 number rendering, no
// insignificant whitespace. Hashes computed over this form are portable
// across implementations.
func (e *Event) Canonical() ([]byte, error) {
	raw, err := json.Marshal(e.wire(false))
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// ComputeHash returns hex(SHA-256(Canonical)).
func (e *Event) ComputeHash() (string, error) {
	c, err := e.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

func nfc(s string) string { return norm.NFC.String(s) }

// normalizeValue deep-copies v, NFC-normalising every string it can reach
// through the JSON shapes (string, map[string]any, []any). Other value kinds
// pass through unchanged. Normalising at construction keeps content hashes
// independent of the caller's Unicode composition; canonicalisation itself
// stays pure RFC 8785.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return nfc(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[nfc(k)] = normalizeValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = normalizeValue(vv)
		}
		return s
	case []string:
		s := make([]string, len(t))
		for i, vv := range t {
			s[i] = nfc(vv)
		}
		return s
	default:
		return v
	}
}
