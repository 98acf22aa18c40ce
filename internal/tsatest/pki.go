// Package tsatest provides an in-memory RFC 3161 Time-Stamp Authority and
// the CA behind it, for tests.
package tsatest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// KeyType selects the TSA signing key.
type KeyType int

const (
	KeyECDSAP256 KeyType = iota
	KeyECDSAP384
	KeyRSA2048
	KeyEd25519
)

// String returns the key type name.
func (k KeyType) String() string {
	switch k {
	case KeyECDSAP256:
		return "ECDSA P-256"
	case KeyECDSAP384:
		return "ECDSA P-384"
	case KeyRSA2048:
		return "RSA 2048"
	case KeyEd25519:
		return "Ed25519"
	}
	return fmt.Sprintf("KeyType(%d)", int(k))
}

func generateKey(k KeyType) (crypto.Signer, error) {
	switch k {
	case KeyECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case KeyRSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case KeyEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}
	return nil, fmt.Errorf("unsupported key type %v", k)
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
}

// Authority is a certificate with the key that signs on its behalf.
type Authority struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// NewRootCA creates a self-signed root CA valid around now.
func NewRootCA(name string, now time.Time) (*Authority, error) {
	key, err := generateKey(KeyECDSAP256)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name, Organization: []string{"trustedts test"}},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return issue(template, key, nil)
}

// NewSubCA issues an intermediate CA under a.
func (a *Authority) NewSubCA(name string, now time.Time) (*Authority, error) {
	key, err := generateKey(KeyECDSAP256)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name, Organization: []string{"trustedts test"}},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(5 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	return issue(template, key, a)
}

type leafConfig struct {
	keyType    KeyType
	notBefore  time.Time
	notAfter   time.Time
	noEKU      bool
	ocspServer string
}

func (a *Authority) newTSACert(cfg leafConfig) (*Authority, error) {
	key, err := generateKey(cfg.keyType)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	ski := make([]byte, 20)
	if _, err := rand.Read(ski); err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "Test TSA", Organization: []string{"trustedts test"}},
		NotBefore:    cfg.notBefore,
		NotAfter:     cfg.notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		SubjectKeyId: ski,
	}
	if cfg.noEKU {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning}
	}
	if cfg.ocspServer != "" {
		template.OCSPServer = []string{cfg.ocspServer}
	}
	return issue(template, key, a)
}

// issue signs template with parent, or self-signs when parent is nil.
func issue(template *x509.Certificate, key crypto.Signer, parent *Authority) (*Authority, error) {
	issuerCert, issuerKey := template, key
	if parent != nil {
		issuerCert, issuerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, issuerCert, key.Public(), issuerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return &Authority{Cert: cert, Key: key}, nil
}
