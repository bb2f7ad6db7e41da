package pin

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKnownVector(t *testing.T) {
	got, err := Hash("1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	const want = "03ac674216f3e15c761ee1a5e255f067953623c8b388b4459e13f978d7c846f4"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestHashDeterministicAndDistinct(t *testing.T) {
	a, _ := Hash("1234")
	b, _ := Hash("1234")
	c, _ := Hash("4321")
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different hashes for 1234 and 4321")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("expected 64 lowercase hex chars, got %q", a)
	}
}

func TestHashRejectsMalformed(t *testing.T) {
	for _, p := range []string{"", "123", "12345", "12a4", " 123", "١٢٣٤"} {
		if _, err := Hash(p); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("Hash(%q): expected ErrInvalidPIN, got %v", p, err)
		}
	}
}

func TestVerify(t *testing.T) {
	stored, _ := Hash("0000")
	if !Verify("0000", stored) {
		t.Fatalf("expected matching PIN to verify")
	}
	if Verify("0001", stored) {
		t.Fatalf("expected different PIN to fail")
	}
	if Verify("0000", "") {
		t.Fatalf("expected empty stored hash to never match")
	}
	if Verify("00", stored) {
		t.Fatalf("expected malformed PIN to fail")
	}
}
