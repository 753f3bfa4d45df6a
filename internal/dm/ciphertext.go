package dm

import (
	"encoding/base64"

	"github.com/shopmindai/chatcore/internal/domain"
)

// decodeCiphertext base64-decodes a message body and enforces the
// configured size cap. Pulled out of Send so it's testable without a
// database.
func decodeCiphertext(encoded string, maxBytes int) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.ErrInvalidBase64
	}
	if len(ciphertext) > maxBytes {
		return nil, domain.ErrCiphertextTooLarge
	}
	return ciphertext, nil
}
