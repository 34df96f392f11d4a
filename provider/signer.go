package provider

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1" // Trustly signs with SHA-1
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// RequestSigner signs canonicalized request plaintexts and verifies
// provider response signatures. RSA PKCS1v15; the digest algorithm is
// provider-specific (Trustly signs with SHA-1, Trumo with SHA-256).
type RequestSigner struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	hash       crypto.Hash
}

// NewRequestSigner builds a signer from PEM-encoded key material.
// publicKeyPEM may be nil for providers that never verify responses.
func NewRequestSigner(privateKeyPEM, publicKeyPEM []byte, hash crypto.Hash) (*RequestSigner, error) {
	if !hash.Available() {
		return nil, fmt.Errorf("signer: hash %v is not linked into the binary", hash)
	}

	priv, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("signer: private key: %w", err)
	}

	var pub *rsa.PublicKey
	if len(publicKeyPEM) > 0 {
		pub, err = parsePublicKey(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("signer: public key: %w", err)
		}
	}

	return &RequestSigner{privateKey: priv, publicKey: pub, hash: hash}, nil
}

// Sign returns the base64 signature over the UTF-8 bytes of plaintext.
func (s *RequestSigner) Sign(plaintext string) (string, error) {
	digest := s.digest(plaintext)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, s.hash, digest)
	if err != nil {
		return "", fmt.Errorf("signer: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against plaintext. A failed check
// returns ErrSignatureVerification; callers must treat it as fatal.
func (s *RequestSigner) Verify(signature, plaintext string) error {
	if s.publicKey == nil {
		return errors.New("signer: no public key configured for verification")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	digest := s.digest(plaintext)
	if err := rsa.VerifyPKCS1v15(s.publicKey, s.hash, digest, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return nil
}

func (s *RequestSigner) digest(plaintext string) []byte {
	h := s.hash.New()
	h.Write([]byte(plaintext))
	return h.Sum(nil)
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}
