package dm

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/shopmindai/chatcore/internal/domain"
)

func TestDecodeCiphertext(t *testing.T) {
	raw := []byte("a reasonably sized ciphertext blob")
	encoded := base64.StdEncoding.EncodeToString(raw)

	decoded, err := decodeCiphertext(encoded, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("round trip mismatch: got %q", decoded)
	}
}

func TestDecodeCiphertextInvalidBase64(t *testing.T) {
	_, err := decodeCiphertext("not valid base64!!", 1024)
	if !errors.Is(err, domain.ErrInvalidBase64) {
		t.Fatalf("expected ErrInvalidBase64, got %v", err)
	}
}

func TestDecodeCiphertextTooLarge(t *testing.T) {
	raw := make([]byte, 100)
	encoded := base64.StdEncoding.EncodeToString(raw)

	_, err := decodeCiphertext(encoded, 10)
	if !errors.Is(err, domain.ErrCiphertextTooLarge) {
		t.Fatalf("expected ErrCiphertextTooLarge, got %v", err)
	}
}
