package provider

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
)

func generateKeyPEM(t *testing.T) (privatePEM, publicPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("x509.MarshalPKIXPublicKey() error = %v", err)
	}
	publicPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return privatePEM, publicPEM
}

func TestRequestSigner_SignAndVerify(t *testing.T) {
	privatePEM, publicPEM := generateKeyPEM(t)

	for _, hash := range []crypto.Hash{crypto.SHA1, crypto.SHA256} {
		signer, err := NewRequestSigner(privatePEM, publicPEM, hash)
		if err != nil {
			t.Fatalf("NewRequestSigner(%v) error = %v", hash, err)
		}

		plaintext := "Deposituuid-1AttributesAmount25CurrencyEUR"
		signature, err := signer.Sign(plaintext)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}

		if err := signer.Verify(signature, plaintext); err != nil {
			t.Errorf("Verify() error = %v, want nil", err)
		}
	}
}

func TestRequestSigner_VerifyTamperedPlaintext(t *testing.T) {
	privatePEM, publicPEM := generateKeyPEM(t)
	signer, err := NewRequestSigner(privatePEM, publicPEM, crypto.SHA1)
	if err != nil {
		t.Fatalf("NewRequestSigner() error = %v", err)
	}

	signature, err := signer.Sign("original plaintext")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := signer.Verify(signature, "tampered plaintext"); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("Verify() error = %v, want ErrSignatureVerification", err)
	}
}

func TestRequestSigner_VerifyBadSignature(t *testing.T) {
	privatePEM, publicPEM := generateKeyPEM(t)
	signer, err := NewRequestSigner(privatePEM, publicPEM, crypto.SHA256)
	if err != nil {
		t.Fatalf("NewRequestSigner() error = %v", err)
	}

	tests := []struct {
		name      string
		signature string
	}{
		{name: "not base64", signature: "%%%not-base64%%%"},
		{name: "valid base64 wrong bytes", signature: "QUJDREVGRw=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := signer.Verify(tt.signature, "plaintext"); !errors.Is(err, ErrSignatureVerification) {
				t.Errorf("Verify() error = %v, want ErrSignatureVerification", err)
			}
		})
	}
}

func TestRequestSigner_HashMismatch(t *testing.T) {
	privatePEM, publicPEM := generateKeyPEM(t)

	sha1Signer, err := NewRequestSigner(privatePEM, publicPEM, crypto.SHA1)
	if err != nil {
		t.Fatalf("NewRequestSigner() error = %v", err)
	}
	sha256Signer, err := NewRequestSigner(privatePEM, publicPEM, crypto.SHA256)
	if err != nil {
		t.Fatalf("NewRequestSigner() error = %v", err)
	}

	signature, err := sha1Signer.Sign("plaintext")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := sha256Signer.Verify(signature, "plaintext"); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("Verify() with mismatched digest error = %v, want ErrSignatureVerification", err)
	}
}

func TestRequestSigner_NoPublicKey(t *testing.T) {
	privatePEM, _ := generateKeyPEM(t)

	signer, err := NewRequestSigner(privatePEM, nil, crypto.SHA256)
	if err != nil {
		t.Fatalf("NewRequestSigner() error = %v", err)
	}

	// Signing still works without a public key.
	if _, err := signer.Sign("plaintext"); err != nil {
		t.Errorf("Sign() error = %v", err)
	}

	// Verification does not.
	if err := signer.Verify("QUJD", "plaintext"); err == nil {
		t.Error("Verify() without a public key succeeded, want error")
	}
}

func TestRequestSigner_PKCS8PrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("x509.MarshalPKCS8PrivateKey() error = %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	if _, err := NewRequestSigner(privatePEM, nil, crypto.SHA256); err != nil {
		t.Errorf("NewRequestSigner() with PKCS#8 key error = %v", err)
	}
}

func TestRequestSigner_InvalidKeyMaterial(t *testing.T) {
	if _, err := NewRequestSigner([]byte("not a pem block"), nil, crypto.SHA256); err == nil {
		t.Error("NewRequestSigner() with garbage key succeeded, want error")
	}
}
