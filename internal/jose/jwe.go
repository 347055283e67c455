package jose

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"bankcri/internal/kms"
)

// gcmTagSize is fixed at 16 bytes for A256GCM; shorter tags are rejected.
const gcmTagSize = 16

type jweHeader struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
}

// Decrypt unwraps a 5-part compact JWE and returns the enclosed compact JWS.
//
// The content-encryption key travels RSA-OAEP wrapped and is unwrapped by
// the KMS; the payload is then AES-256-GCM decrypted locally with the
// protected header segment as additional authenticated data, which also
// verifies the GCM tag. Every failure collapses to ErrDecryptionFailed so
// callers cannot build a padding or structure oracle from the error detail.
func (a *Adapter) Decrypt(ctx context.Context, token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return "", fmt.Errorf("%w: expected 5 segments, got %d", ErrDecryptionFailed, len(parts))
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: protected header: %v", ErrDecryptionFailed, err)
	}
	var header jweHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return "", fmt.Errorf("%w: protected header JSON: %v", ErrDecryptionFailed, err)
	}

	var unwrapAlg kms.Algorithm
	switch header.Alg {
	case "RSA-OAEP":
		unwrapAlg = kms.AlgRSAOAEPSHA1
	case "RSA-OAEP-256":
		unwrapAlg = kms.AlgRSAOAEPSHA256
	default:
		return "", fmt.Errorf("%w: unsupported alg %q", ErrDecryptionFailed, header.Alg)
	}
	if header.Enc != "A256GCM" {
		return "", fmt.Errorf("%w: unsupported enc %q", ErrDecryptionFailed, header.Enc)
	}

	encryptedKey, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: encrypted key: %v", ErrDecryptionFailed, err)
	}
	iv, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrDecryptionFailed, err)
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrDecryptionFailed, err)
	}
	tag, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return "", fmt.Errorf("%w: tag: %v", ErrDecryptionFailed, err)
	}
	if len(tag) != gcmTagSize {
		return "", fmt.Errorf("%w: tag must be %d bytes", ErrDecryptionFailed, gcmTagSize)
	}

	cek, err := a.kms.Decrypt(ctx, a.decryptionKeyID, encryptedKey, unwrapAlg)
	if err != nil {
		return "", fmt.Errorf("%w: key unwrap: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return "", fmt.Errorf("%w: content key: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: iv must be %d bytes", ErrDecryptionFailed, gcm.NonceSize())
	}

	// AAD is the ASCII form of the base64url-encoded protected header, per
	// RFC 7516 §5.1 step 14.
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), []byte(parts[0]))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
