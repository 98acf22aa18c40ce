package tsp

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// TrustAnchor holds the certificates a TSA certificate must chain to.
// It is read-only once built and safe to share.
type TrustAnchor struct {
	Roots         []*x509.Certificate
	Intermediates []*x509.Certificate
}

// NewTrustAnchor builds a TrustAnchor from root certificates.
func NewTrustAnchor(roots ...*x509.Certificate) *TrustAnchor {
	return &TrustAnchor{Roots: roots}
}

// ParseTrustAnchor builds a TrustAnchor from PEM or DER encoded roots and
// optional intermediates.
func ParseTrustAnchor(roots, intermediates []byte) (*TrustAnchor, error) {
	r, err := ParseCertificates(roots)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificates: %w", err)
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("no root certificates found")
	}
	var inter []*x509.Certificate
	if len(intermediates) > 0 {
		inter, err = ParseCertificates(intermediates)
		if err != nil {
			return nil, fmt.Errorf("failed to parse intermediate certificates: %w", err)
		}
	}
	return &TrustAnchor{Roots: r, Intermediates: inter}, nil
}

// LoadTrustAnchor reads a TrustAnchor from files. intermediatesPath may be empty.
func LoadTrustAnchor(rootsPath, intermediatesPath string) (*TrustAnchor, error) {
	roots, err := os.ReadFile(rootsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust anchor: %w", err)
	}
	var inter []byte
	if intermediatesPath != "" {
		inter, err = os.ReadFile(intermediatesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read intermediates: %w", err)
		}
	}
	return ParseTrustAnchor(roots, inter)
}

// ParseCertificates decodes every certificate in data, which is either a
// sequence of PEM CERTIFICATE blocks or concatenated DER.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		return x509.ParseCertificates(data)
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func (a *TrustAnchor) rootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range a.Roots {
		pool.AddCert(c)
	}
	return pool
}

func (a *TrustAnchor) intermediatePool(extra []*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range a.Intermediates {
		pool.AddCert(c)
	}
	for _, c := range extra {
		pool.AddCert(c)
	}
	return pool
}
