package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestCleanGoErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "get prefix stripped",
			in:   `Get "http://idp.test/token": dial tcp: connection refused`,
			want: "dial tcp: connection refused",
		},
		{
			name: "post prefix stripped",
			in:   `Post "https://idp.test/token": context deadline exceeded`,
			want: "context deadline exceeded",
		},
		{
			name: "no prefix unchanged",
			in:   "plain error message",
			want: "plain error message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanGoErrorMessage(tt.in); got != tt.want {
				t.Errorf("CleanGoErrorMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseWWWAuthenticate(t *testing.T) {
	t.Run("all fields", func(t *testing.T) {
		code, desc, uri := ParseWWWAuthenticate(`Bearer error="invalid_token", error_description="Token expired", error_uri="https://idp.test/errors"`)
		if code != "invalid_token" || desc != "Token expired" || uri != "https://idp.test/errors" {
			t.Errorf("got (%q, %q, %q)", code, desc, uri)
		}
	})

	t.Run("bare scheme", func(t *testing.T) {
		code, desc, uri := ParseWWWAuthenticate("Bearer")
		if code != "" || desc != "" || uri != "" {
			t.Errorf("got (%q, %q, %q), want empty", code, desc, uri)
		}
	})
}

func TestIsJWT(t *testing.T) {
	if !IsJWT("aaa.bbb.ccc") {
		t.Error("three-part string should be a JWT")
	}
	if IsJWT("opaque-token") {
		t.Error("opaque token should not be a JWT")
	}
	if IsJWT("a.b") {
		t.Error("two-part string should not be a JWT")
	}
}

func TestDecodeJWTRaw(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user1"}`))
	token := header + "." + payload + ".sig"

	h, p := DecodeJWTRaw(token)
	if string(h) != `{"alg":"RS256"}` {
		t.Errorf("header = %q", h)
	}
	if string(p) != `{"sub":"user1"}` {
		t.Errorf("payload = %q", p)
	}
}

func TestPrettyJSON(t *testing.T) {
	t.Run("valid JSON indented", func(t *testing.T) {
		got := PrettyJSON(json.RawMessage(`{"a":1}`))
		want := "{\n  \"a\": 1\n}"
		if got != want {
			t.Errorf("PrettyJSON = %q, want %q", got, want)
		}
	})

	t.Run("invalid JSON unchanged", func(t *testing.T) {
		if got := PrettyJSON(json.RawMessage("not json")); got != "not json" {
			t.Errorf("PrettyJSON = %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := PrettyJSON(nil); got != "" {
			t.Errorf("PrettyJSON(nil) = %q", got)
		}
	})
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	keys := SortedKeys(m)
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("SortedKeys = %v", keys)
	}
}
