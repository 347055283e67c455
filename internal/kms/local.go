package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"sync"
)

// Local is an in-process Service used by tests and local development. Keys
// are generated on demand and held only in memory. It deliberately mirrors
// the remote contract (raw-message ECDSA signing returning DER, OAEP unwrap,
// SPKI public keys) so code exercised against it behaves identically against
// the real service.
type Local struct {
	mu      sync.Mutex
	ecKeys  map[string]*ecdsa.PrivateKey
	rsaKeys map[string]*rsa.PrivateKey
}

func NewLocal() *Local {
	return &Local{
		ecKeys:  make(map[string]*ecdsa.PrivateKey),
		rsaKeys: make(map[string]*rsa.PrivateKey),
	}
}

// AddSigningKey registers a P-256 key under keyID and returns its public half.
func (l *Local) AddSigningKey(keyID string) (*ecdsa.PublicKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.ecKeys[keyID] = key
	l.mu.Unlock()
	return &key.PublicKey, nil
}

// AddDecryptionKey registers a 2048-bit RSA key under keyID and returns its
// public half for encrypting test payloads toward the service.
func (l *Local) AddDecryptionKey(keyID string) (*rsa.PublicKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.rsaKeys[keyID] = key
	l.mu.Unlock()
	return &key.PublicKey, nil
}

func (l *Local) Sign(_ context.Context, keyID string, message []byte, alg Algorithm) ([]byte, error) {
	if alg != AlgECDSASHA256 {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	l.mu.Lock()
	key, ok := l.ecKeys[keyID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("signing key %q not found", keyID)
	}
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, key, digest[:])
}

func (l *Local) Decrypt(_ context.Context, keyID string, ciphertext []byte, alg Algorithm) ([]byte, error) {
	l.mu.Lock()
	key, ok := l.rsaKeys[keyID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("decryption key %q not found", keyID)
	}
	switch alg {
	case AlgRSAOAEPSHA1:
		return rsa.DecryptOAEP(sha1.New(), rand.Reader, key, ciphertext, nil)
	case AlgRSAOAEPSHA256:
		return rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	default:
		return nil, fmt.Errorf("unsupported decryption algorithm %q", alg)
	}
}

func (l *Local) GetPublicKey(_ context.Context, keyID string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key, ok := l.ecKeys[keyID]; ok {
		return x509.MarshalPKIXPublicKey(&key.PublicKey)
	}
	if key, ok := l.rsaKeys[keyID]; ok {
		return x509.MarshalPKIXPublicKey(&key.PublicKey)
	}
	return nil, fmt.Errorf("key %q not found", keyID)
}
