package auth

import "testing"

func TestBcryptMatchesAcrossHashes(t *testing.T) {
	h := BcryptHasher{}
	for _, plain := range []string{"secret", "pässwörd", "a much longer passphrase with spaces"} {
		first, err := h.Hash([]byte(plain))
		if err != nil {
			t.Fatalf("Hash(%q): %v", plain, err)
		}
		second, err := h.Hash([]byte(plain))
		if err != nil {
			t.Fatalf("Hash(%q): %v", plain, err)
		}
		if first == second {
			t.Fatalf("expected distinct salts for %q", plain)
		}
		if !h.Matches([]byte(plain), first) || !h.Matches([]byte(plain), second) {
			t.Fatalf("Matches failed for %q", plain)
		}
		if h.Matches([]byte(plain+"x"), first) {
			t.Fatalf("Matches accepted wrong password for %q", plain)
		}
	}
}

func TestBcryptRejectsEmpty(t *testing.T) {
	h := BcryptHasher{}
	if _, err := h.Hash(nil); err == nil {
		t.Fatal("expected error for empty password")
	}
	if h.Matches([]byte("x"), "") {
		t.Fatal("empty digest must never match")
	}
}
