package agenttoken

import (
	"strings"
	"testing"
)

func TestGenerateTokenLengthAndAlphabet(t *testing.T) {
	raw, hash := GenerateToken()
	if len(raw) != tokenLength {
		t.Fatalf("expected token length %d, got %d", tokenLength, len(raw))
	}
	for _, r := range raw {
		if !strings.ContainsRune(tokenAlphabet, r) {
			t.Fatalf("token %q contains a character outside the allowed alphabet", raw)
		}
	}
	if hash == "" || hash == raw {
		t.Fatal("expected a distinct non-empty hash")
	}
}

func TestGenerateTokenIsUnique(t *testing.T) {
	a, _ := GenerateToken()
	b, _ := GenerateToken()
	if a == b {
		t.Fatal("expected two generated tokens to differ")
	}
}

func TestHashTokenIsDeterministic(t *testing.T) {
	raw, hash := GenerateToken()
	if HashToken(raw) != hash {
		t.Fatal("expected HashToken to be deterministic for the same input")
	}
}

func TestPrefixIsEightChars(t *testing.T) {
	raw, _ := GenerateToken()
	p := Prefix(raw)
	if len(p) != 8 {
		t.Fatalf("expected an 8-char prefix, got %q", p)
	}
	if p != raw[:8] {
		t.Fatalf("expected prefix to be the first 8 chars of the raw token")
	}
}
