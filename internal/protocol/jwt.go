// Package protocol holds small OAuth2/HTTP wire-format helpers shared by
// the broker and the status page.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
)

// IsJWT returns true if the string has the 3-part JWT structure.
func IsJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

// DecodeJWTRaw decodes a JWT's header and payload as raw bytes.
// Signature verification is the provider's concern; this is display only.
func DecodeJWTRaw(token string) (header, payload []byte) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 2 {
		return []byte(token), nil
	}
	h, _ := base64.RawURLEncoding.DecodeString(parts[0])
	p, _ := base64.RawURLEncoding.DecodeString(parts[1])
	return h, p
}

// PrettyJSON formats a JSON value with indentation. Invalid JSON is
// returned unchanged.
func PrettyJSON(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(b)
}

// SortedKeys returns the sorted keys of a string-keyed map.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
