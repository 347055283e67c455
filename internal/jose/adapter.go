// Package jose implements the credential issuer's token cryptography against
// a remote key service: compact JWE decryption, JWS decoding, JWKS-based
// verification, and ES256 signing where the private key never leaves the KMS.
package jose

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"bankcri/internal/kms"
)

// Infrastructure facts about token handling. Services translate these into
// domain errors: decryption and malformed-token failures become unauthorized
// rejections, signing failures become server faults.
var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedToken   = errors.New("malformed token")
	ErrSigningFailed    = errors.New("signing failed")
)

const jwksWellKnownPath = "/.well-known/jwks.json"

// Adapter performs all JWT operations for the issuer. It holds key
// references only; Sign and Decrypt round-trip through the KMS.
type Adapter struct {
	kms             kms.Service
	signingKeyID    string
	signingKeyAlias string
	decryptionKeyID string
}

func NewAdapter(svc kms.Service, signingKeyID, signingKeyAlias, decryptionKeyID string) *Adapter {
	return &Adapter{
		kms:             svc,
		signingKeyID:    signingKeyID,
		signingKeyAlias: signingKeyAlias,
		decryptionKeyID: decryptionKeyID,
	}
}

// Header is the decoded protected header of a compact JWS.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// DecodedJWS is the result of splitting a compact JWS without verifying it.
type DecodedJWS struct {
	Header    Header
	Payload   []byte
	Signature []byte
}

// Decode splits a compact JWS and base64url-decodes its parts. It performs
// no signature verification. Returns ErrMalformedToken when the token has
// fewer than three segments or either JSON half fails to parse.
func Decode(token string) (*DecodedJWS, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header segment: %v", ErrMalformedToken, err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header JSON: %v", ErrMalformedToken, err)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload segment: %v", ErrMalformedToken, err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not JSON", ErrMalformedToken)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature segment: %v", ErrMalformedToken, err)
	}
	return &DecodedJWS{Header: header, Payload: payload, Signature: signature}, nil
}

// VerifyWithJWKS fetches the caller's published key set and verifies the JWS
// against it. The signing key is chosen by kid when supplied, otherwise the
// first use=sig key in the set.
//
// A failed signature check returns (nil, nil), not an error: callers must be
// able to distinguish "no payload, reject the caller" from a server fault
// such as an unreachable JWKS endpoint.
func (a *Adapter) VerifyWithJWKS(ctx context.Context, token, jwksURI, kid string) ([]byte, error) {
	set, err := jwk.Fetch(ctx, strings.TrimSuffix(jwksURI, "/")+jwksWellKnownPath)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}

	key, err := selectSigningKey(set, kid)
	if err != nil {
		return nil, err
	}

	alg := jwa.ES256
	if key.Algorithm().String() != "" {
		alg = jwa.SignatureAlgorithm(key.Algorithm().String())
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(alg, key))
	if err != nil {
		// Bad signature, not a server fault.
		return nil, nil
	}
	return payload, nil
}

func selectSigningKey(set jwk.Set, kid string) (jwk.Key, error) {
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.KeyUsage() != string(jwk.ForSignature) {
			continue
		}
		if kid != "" && key.KeyID() != kid {
			continue
		}
		return key, nil
	}
	return nil, fmt.Errorf("no signing key in JWKS matching kid %q", kid)
}

// Sign builds and signs a compact ES256 JWS over payload. The kid is the
// sha256 hex of the signing key's local alias name so verifiers can map it
// back to the published JWKS entry.
func (a *Adapter) Sign(ctx context.Context, payload []byte) (string, error) {
	return a.SignWithKeyID(ctx, payload, Kid(a.signingKeyAlias))
}

// SignWithKeyID signs with an explicit kid header. Exists so integration
// harnesses can produce tokens with a mismatched kid and exercise downstream
// rejection; production callers use Sign.
func (a *Adapter) SignWithKeyID(ctx context.Context, payload []byte, kid string) (string, error) {
	header, err := json.Marshal(Header{Alg: "ES256", Typ: "JWT", Kid: kid})
	if err != nil {
		return "", fmt.Errorf("%w: marshal header: %v", ErrSigningFailed, err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload)

	derSig, err := a.kms.Sign(ctx, a.signingKeyID, []byte(signingInput), kms.AlgECDSASHA256)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if len(derSig) == 0 {
		return "", fmt.Errorf("%w: remote signer returned no signature", ErrSigningFailed)
	}

	joseSig, err := derToJOSE(derSig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(joseSig), nil
}

// Kid derives the JWS kid header value from a key's local alias name.
func Kid(keyAlias string) string {
	sum := sha256.Sum256([]byte(keyAlias))
	return hex.EncodeToString(sum[:])
}
