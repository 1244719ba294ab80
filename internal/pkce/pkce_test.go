package pkce

import (
	"strings"
	"testing"
)

func TestRandomString(t *testing.T) {
	t.Run("length and alphabet", func(t *testing.T) {
		for _, n := range []int{1, 32, 43, 64, 128} {
			s, err := RandomString(n)
			if err != nil {
				t.Fatalf("RandomString(%d): %v", n, err)
			}
			if len(s) != n {
				t.Errorf("RandomString(%d) length = %d", n, len(s))
			}
			for _, c := range s {
				if !strings.ContainsRune(Unreserved, c) {
					t.Errorf("RandomString(%d) contains %q outside alphabet", n, c)
				}
			}
		}
	})

	t.Run("invalid length", func(t *testing.T) {
		if _, err := RandomString(0); err == nil {
			t.Error("RandomString(0) should return error")
		}
		if _, err := RandomString(-5); err == nil {
			t.Error("RandomString(-5) should return error")
		}
	})

	t.Run("no repeats", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 100 {
			s, err := RandomString(VerifierLength)
			if err != nil {
				t.Fatal(err)
			}
			if seen[s] {
				t.Fatalf("duplicate random string %q", s)
			}
			seen[s] = true
		}
	})
}

func TestStateAndVerifierLengths(t *testing.T) {
	s, err := State()
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != StateLength {
		t.Errorf("State() length = %d, want %d", len(s), StateLength)
	}

	v, err := Verifier()
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != VerifierLength {
		t.Errorf("Verifier() length = %d, want %d", len(v), VerifierLength)
	}
}

func TestCodeChallenge(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := CodeChallenge("some-fixed-verifier")
		b := CodeChallenge("some-fixed-verifier")
		if a != b {
			t.Errorf("CodeChallenge not deterministic: %q != %q", a, b)
		}
	})

	t.Run("known vector", func(t *testing.T) {
		// Appendix B of RFC 7636.
		got := CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
		want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
		if got != want {
			t.Errorf("CodeChallenge = %q, want %q", got, want)
		}
	})

	t.Run("no padding, base64url alphabet", func(t *testing.T) {
		c := CodeChallenge("another-verifier")
		if strings.ContainsAny(c, "=+/") {
			t.Errorf("CodeChallenge %q contains padding or non-url characters", c)
		}
		if len(c) != 43 {
			t.Errorf("CodeChallenge length = %d, want 43", len(c))
		}
	})
}
