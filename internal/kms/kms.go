// Package kms abstracts the remote key-management service the credential
// issuer depends on. Private key material never enters the process; signing
// and key-unwrap happen behind this capability so the rest of the code is
// isolated from any specific cloud SDK.
package kms

import "context"

// Algorithm names the cryptographic operation variants the service supports.
type Algorithm string

const (
	AlgECDSASHA256   Algorithm = "ECDSA_SHA_256"
	AlgRSAOAEPSHA1   Algorithm = "RSAES_OAEP_SHA_1"
	AlgRSAOAEPSHA256 Algorithm = "RSAES_OAEP_SHA_256"
)

// Service is the remote signer/decryptor contract. Implementations must
// satisfy RSA-OAEP and ECDSA P-256/SHA-256 semantics:
//
//   - Sign receives the raw message (not a digest), hashes with SHA-256 and
//     returns a DER-encoded ECDSA signature.
//   - Decrypt unwraps an RSA-OAEP encrypted blob with the named private key.
//   - GetPublicKey returns the SPKI (PKIX, DER) encoding of the public half.
type Service interface {
	Sign(ctx context.Context, keyID string, message []byte, alg Algorithm) ([]byte, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte, alg Algorithm) ([]byte, error)
	GetPublicKey(ctx context.Context, keyID string) ([]byte, error)
}
