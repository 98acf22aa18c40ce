package tsp

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	// ErrCertificateRevoked indicates a certificate was revoked at or
	// before the time being checked.
	ErrCertificateRevoked = errors.New("certificate revoked")

	// ErrRevocationUnknown indicates no revocation information covers
	// the certificate.
	ErrRevocationUnknown = errors.New("revocation status unknown")
)

// RevocationChecker decides whether cert, issued by issuer, was revoked at
// the given instant. Implementations must not perform I/O.
type RevocationChecker interface {
	CheckRevocation(cert, issuer *x509.Certificate, at time.Time) error
}

// CRLChecker checks certificates against pre-loaded CRLs. A CRL covers a
// certificate when its issuer name matches, its signature verifies under
// the issuer and its nextUpdate has not passed.
type CRLChecker struct {
	CRLs []*x509.RevocationList
	// AllowMissing accepts certificates whose issuer has no usable CRL.
	AllowMissing bool
	// Now is the clock CRL freshness is judged against. Defaults to time.Now.
	Now func() time.Time
}

// CheckRevocation implements RevocationChecker.
func (c *CRLChecker) CheckRevocation(cert, issuer *x509.Certificate, at time.Time) error {
	now := clockOf(c.Now)()
	covered := false
	reason := "no CRL"
	for _, crl := range c.CRLs {
		if !bytes.Equal(crl.RawIssuer, issuer.RawSubject) {
			continue
		}
		// Same name, other key: a rolled-over or unrelated CA.
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			reason = "no CRL signed by the issuer key"
			continue
		}
		if !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate) {
			reason = "CRL expired at " + crl.NextUpdate.UTC().Format(time.RFC3339)
			continue
		}
		covered = true
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) != 0 {
				continue
			}
			if !entry.RevocationTime.After(at) {
				return fmt.Errorf("%w: serial %s revoked at %s", ErrCertificateRevoked,
					cert.SerialNumber.Text(16), entry.RevocationTime.UTC().Format(time.RFC3339))
			}
		}
	}
	if !covered && !c.AllowMissing {
		return fmt.Errorf("%w: %s for issuer %q", ErrRevocationUnknown, reason, issuer.Subject.String())
	}
	return nil
}

// OCSPChecker checks certificates against pre-fetched DER OCSP responses.
// Responses outside their thisUpdate/nextUpdate window are ignored.
type OCSPChecker struct {
	Responses [][]byte
	// AllowMissing accepts certificates with no usable response.
	AllowMissing bool
	// Now is the clock response freshness is judged against. Defaults to
	// time.Now.
	Now func() time.Time
}

// CheckRevocation implements RevocationChecker.
func (c *OCSPChecker) CheckRevocation(cert, issuer *x509.Certificate, at time.Time) error {
	now := clockOf(c.Now)()
	reason := "no OCSP response"
	for _, raw := range c.Responses {
		resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
		if err != nil {
			continue
		}
		if resp.ThisUpdate.After(now) {
			reason = "OCSP response not yet valid"
			continue
		}
		if !resp.NextUpdate.IsZero() && now.After(resp.NextUpdate) {
			reason = "OCSP response expired at " + resp.NextUpdate.UTC().Format(time.RFC3339)
			continue
		}
		switch resp.Status {
		case ocsp.Good:
			return nil
		case ocsp.Revoked:
			if resp.RevokedAt.After(at) {
				return nil
			}
			return fmt.Errorf("%w: serial %s revoked at %s (OCSP)", ErrCertificateRevoked,
				cert.SerialNumber.Text(16), resp.RevokedAt.UTC().Format(time.RFC3339))
		default:
			return fmt.Errorf("%w: OCSP status unknown for serial %s", ErrRevocationUnknown, cert.SerialNumber.Text(16))
		}
	}
	if c.AllowMissing {
		return nil
	}
	return fmt.Errorf("%w: %s for serial %s", ErrRevocationUnknown, reason, cert.SerialNumber.Text(16))
}

func clockOf(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

// checkChainRevocation checks every certificate of chain except the root.
func checkChainRevocation(rc RevocationChecker, chain []*x509.Certificate, at time.Time) error {
	for i := 0; i+1 < len(chain); i++ {
		if err := rc.CheckRevocation(chain[i], chain[i+1], at); err != nil {
			return err
		}
	}
	return nil
}
