package group

import "testing"

func TestGenerateInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateInviteCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != 12 {
			t.Fatalf("expected 12-char code, got %q (%d)", code, len(code))
		}
		for _, r := range code {
			if !containsRune(inviteCodeAlphabet, r) {
				t.Fatalf("code %q contains character %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("expected mostly-unique codes across 50 draws, got %d distinct", len(seen))
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
