package tsatest

import (
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Revoke marks the TSA certificate revoked at the given instant. It
// affects CRLs and OCSP responses produced afterwards.
func (t *TSA) Revoke(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revokedAt = at.UTC()
}

func (t *TSA) revocationTime() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revokedAt, !t.revokedAt.IsZero()
}

// CRL returns a CRL from the TSA certificate's issuer, listing the TSA
// certificate when it has been revoked.
func (t *TSA) CRL() (*x509.RevocationList, error) {
	var entries []x509.RevocationListEntry
	if at, ok := t.revocationTime(); ok {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   t.Signer.Cert.SerialNumber,
			RevocationTime: at,
		})
	}
	return createCRL(t.Issuer(), entries)
}

// RootCRL returns an empty CRL from the root CA.
func (t *TSA) RootCRL() (*x509.RevocationList, error) {
	return createCRL(t.Root, nil)
}

func createCRL(issuer *Authority, entries []x509.RevocationListEntry) (*x509.RevocationList, error) {
	now := time.Now()
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(now.UnixNano()),
		ThisUpdate:                now.Add(-time.Minute),
		NextUpdate:                now.Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}, issuer.Cert, issuer.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRL: %w", err)
	}
	return x509.ParseRevocationList(der)
}

// OCSPResponse returns a DER OCSP response for the TSA certificate, signed
// by its issuer.
func (t *TSA) OCSPResponse() ([]byte, error) {
	now := time.Now()
	template := ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: t.Signer.Cert.SerialNumber,
		ThisUpdate:   now.Add(-time.Minute),
		NextUpdate:   now.Add(time.Hour),
	}
	if at, ok := t.revocationTime(); ok {
		template.Status = ocsp.Revoked
		template.RevokedAt = at
		template.RevocationReason = ocsp.KeyCompromise
	}
	issuer := t.Issuer()
	return ocsp.CreateResponse(issuer.Cert, issuer.Cert, template, issuer.Key)
}
