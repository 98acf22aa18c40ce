package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// generateECDSAKey generates an ECDSA key for testing.
func generateECDSAKey(t *testing.T, curve elliptic.Curve) crypto.Signer {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate ECDSA key: %v", err)
	}
	return priv
}

// generateRSAKey generates an RSA key for testing.
func generateRSAKey(t *testing.T, bits int) crypto.Signer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return priv
}

// generateEd25519Key generates an Ed25519 key for testing.
func generateEd25519Key(t *testing.T) crypto.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate Ed25519 key: %v", err)
	}
	return priv
}

// generateTestCertificate creates a self-signed certificate for testing.
func generateTestCertificate(t *testing.T, signer crypto.Signer) *x509.Certificate {
	t.Helper()

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("Failed to generate serial number: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "Test Signer",
			Organization: []string{"Test Org"},
		},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		SubjectKeyId: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

// signTestContent signs content and parses the result back.
func signTestContent(t *testing.T, content []byte, config *SignerConfig) *SignedData {
	t.Helper()
	der, err := Sign(content, config)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := ParseSignedData(der)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	return sd
}
