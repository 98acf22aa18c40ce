package tsp

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/remiblancher/trustedts/pkg/cms"
)

type verifyOptions struct {
	anchor      *TrustAnchor
	currentTime time.Time
	revocation  RevocationChecker
}

// verifyToken checks the token signature, its signer certificate and the
// chain to the anchor. It returns the signer and the verified chain.
func verifyToken(tok *Token, opts verifyOptions) (*x509.Certificate, []*x509.Certificate, error) {
	if opts.anchor == nil || len(opts.anchor.Roots) == 0 {
		return nil, nil, fmt.Errorf("no trust anchor")
	}
	si := tok.SignerInfo

	signer, err := findSignerCert(si, tok.Certificates, opts.anchor)
	if err != nil {
		return nil, nil, err
	}

	if err := verifySignedAttrs(si, tok.EContent, signer); err != nil {
		return nil, nil, err
	}

	digestAlg, ok := cms.HashFromOID(si.DigestAlgorithm.Algorithm)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported digest algorithm %v", si.DigestAlgorithm.Algorithm)
	}
	if err := verifySignature(signer, si.SignatureAlgorithm, digestAlg, si.SignedAttrsDER(), si.Signature); err != nil {
		return nil, nil, err
	}

	if err := verifyTSAEKU(signer); err != nil {
		return nil, nil, err
	}

	chains, err := signer.Verify(x509.VerifyOptions{
		Roots:         opts.anchor.rootPool(),
		Intermediates: opts.anchor.intermediatePool(tok.Certificates),
		CurrentTime:   opts.currentTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("certificate chain verification failed: %w", err)
	}
	chain := chains[0]

	if opts.revocation != nil {
		if err := checkChainRevocation(opts.revocation, chain, opts.currentTime); err != nil {
			return nil, nil, err
		}
	}
	return signer, chain, nil
}

// findSignerCert locates the certificate named by the SignerIdentifier among
// the embedded certificates, then the anchor's.
func findSignerCert(si *cms.SignerInfo, embedded []*x509.Certificate, anchor *TrustAnchor) (*x509.Certificate, error) {
	for _, group := range [][]*x509.Certificate{embedded, anchor.Intermediates, anchor.Roots} {
		for _, c := range group {
			if si.MatchesCertificate(c) {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w for signer identifier", cms.ErrNoCertificate)
}

// verifyTSAEKU checks that the certificate has the timeStamping EKU.
func verifyTSAEKU(cert *x509.Certificate) error {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageTimeStamping {
			return nil
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		if oid.Equal(cms.OIDExtKeyUsageTimeStamping) {
			return nil
		}
	}
	return fmt.Errorf("certificate does not have timeStamping EKU")
}

// verifySignedAttrs checks the content-type, message-digest and ESS
// signing-certificate attributes.
func verifySignedAttrs(si *cms.SignerInfo, content []byte, signer *x509.Certificate) error {
	attrs, err := si.Attributes()
	if err != nil {
		return err
	}
	if len(attrs) == 0 {
		return fmt.Errorf("no signed attributes")
	}

	ct, ok := cms.FindAttribute(attrs, cms.OIDContentType)
	if !ok || len(ct.Values) != 1 {
		return fmt.Errorf("%w: content-type", cms.ErrMissingAttribute)
	}
	var ctOID asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(ct.Values[0].FullBytes, &ctOID); err != nil {
		return fmt.Errorf("failed to parse content-type attribute: %w", err)
	}
	if !ctOID.Equal(cms.OIDTSTInfo) {
		return fmt.Errorf("content-type attribute %v is not id-ct-TSTInfo", ctOID)
	}

	md, ok := cms.FindAttribute(attrs, cms.OIDMessageDigest)
	if !ok || len(md.Values) != 1 {
		return fmt.Errorf("%w: message-digest", cms.ErrMissingAttribute)
	}
	var digest []byte
	if _, err := asn1.Unmarshal(md.Values[0].FullBytes, &digest); err != nil {
		return fmt.Errorf("failed to parse message digest: %w", err)
	}
	digestAlg, ok := cms.HashFromOID(si.DigestAlgorithm.Algorithm)
	if !ok {
		return fmt.Errorf("unsupported digest algorithm %v", si.DigestAlgorithm.Algorithm)
	}
	contentDigest, err := cms.Digest(digestAlg, content)
	if err != nil {
		return err
	}
	if !bytes.Equal(digest, contentDigest) {
		return fmt.Errorf("message digest attribute does not match content")
	}

	return verifySigningCertificate(attrs, signer)
}

// verifySigningCertificate checks the ESS signing-certificate(-v2)
// attribute when present: its first entry must hash the signer certificate.
func verifySigningCertificate(attrs []cms.Attribute, signer *x509.Certificate) error {
	if attr, ok := cms.FindAttribute(attrs, cms.OIDSigningCertificateV2); ok && len(attr.Values) > 0 {
		var sc cms.SigningCertificateV2
		if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &sc); err != nil {
			return fmt.Errorf("failed to parse signing-certificate-v2: %w", err)
		}
		if len(sc.Certs) == 0 {
			return fmt.Errorf("empty signing-certificate-v2")
		}
		h := crypto.SHA256
		if len(sc.Certs[0].HashAlgorithm.Algorithm) > 0 {
			var ok bool
			if h, ok = cms.HashFromOID(sc.Certs[0].HashAlgorithm.Algorithm); !ok {
				return fmt.Errorf("unsupported ESSCertIDv2 hash %v", sc.Certs[0].HashAlgorithm.Algorithm)
			}
		}
		sum, err := cms.Digest(h, signer.Raw)
		if err != nil {
			return err
		}
		if !bytes.Equal(sum, sc.Certs[0].CertHash) {
			return fmt.Errorf("signing-certificate-v2 does not match signer certificate")
		}
		return nil
	}

	if attr, ok := cms.FindAttribute(attrs, cms.OIDSigningCertificate); ok && len(attr.Values) > 0 {
		var sc cms.SigningCertificate
		if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &sc); err != nil {
			return fmt.Errorf("failed to parse signing-certificate: %w", err)
		}
		if len(sc.Certs) == 0 {
			return fmt.Errorf("empty signing-certificate")
		}
		sum, _ := cms.Digest(crypto.SHA1, signer.Raw)
		if !bytes.Equal(sum, sc.Certs[0].CertHash) {
			return fmt.Errorf("signing-certificate does not match signer certificate")
		}
	}
	return nil
}

// verifySignature verifies sig over data with the signer's public key.
func verifySignature(cert *x509.Certificate, sigAlg pkix.AlgorithmIdentifier, digestAlg crypto.Hash, data, sig []byte) error {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		digest, err := cms.Digest(digestAlg, data)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pub, digest, sig) {
			return fmt.Errorf("ECDSA signature verification failed")
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(pub, data, sig) {
			return fmt.Errorf("Ed25519 signature verification failed")
		}
		return nil

	case *rsa.PublicKey:
		if sigAlg.Algorithm.Equal(cms.OIDRSAPSS) {
			return verifyRSAPSS(pub, sigAlg, digestAlg, data, sig)
		}
		digest, err := cms.Digest(digestAlg, data)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub, digestAlg, digest, sig); err != nil {
			return fmt.Errorf("RSA signature verification failed: %w", err)
		}
		return nil

	case nil:
		return verifyMLDSA(cert.RawSubjectPublicKeyInfo, sigAlg.Algorithm, data, sig)

	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

func verifyRSAPSS(pub *rsa.PublicKey, sigAlg pkix.AlgorithmIdentifier, digestAlg crypto.Hash, data, sig []byte) error {
	h := digestAlg
	if len(sigAlg.Parameters.FullBytes) > 0 {
		var params cms.PSSParameters
		if _, err := asn1.Unmarshal(sigAlg.Parameters.FullBytes, &params); err != nil {
			return fmt.Errorf("failed to parse RSA-PSS parameters: %w", err)
		}
		if len(params.Hash.Algorithm) == 0 {
			h = crypto.SHA1
		} else {
			var ok bool
			if h, ok = cms.HashFromOID(params.Hash.Algorithm); !ok {
				return fmt.Errorf("unsupported RSA-PSS hash %v", params.Hash.Algorithm)
			}
		}
	}
	digest, err := cms.Digest(h, data)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPSS(pub, h, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto}); err != nil {
		return fmt.Errorf("RSA-PSS signature verification failed: %w", err)
	}
	return nil
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// verifyMLDSA verifies a pure ML-DSA signature (FIPS 204, empty context)
// using the key in spkiDER. crypto/x509 leaves PublicKey nil for these keys.
func verifyMLDSA(spkiDER []byte, sigAlgOID asn1.ObjectIdentifier, data, sig []byte) error {
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(spkiDER, &spki); err != nil {
		return fmt.Errorf("failed to parse subject public key info: %w", err)
	}
	keyOID := spki.Algorithm.Algorithm
	if !keyOID.Equal(sigAlgOID) {
		return fmt.Errorf("signature algorithm %v does not match key algorithm %v", sigAlgOID, keyOID)
	}
	key := spki.PublicKey.RightAlign()

	var ok bool
	switch {
	case keyOID.Equal(cms.OIDMLDSA44):
		var pk mldsa44.PublicKey
		if err := pk.UnmarshalBinary(key); err != nil {
			return fmt.Errorf("invalid ML-DSA-44 public key: %w", err)
		}
		ok = mldsa44.Verify(&pk, data, nil, sig)
	case keyOID.Equal(cms.OIDMLDSA65):
		var pk mldsa65.PublicKey
		if err := pk.UnmarshalBinary(key); err != nil {
			return fmt.Errorf("invalid ML-DSA-65 public key: %w", err)
		}
		ok = mldsa65.Verify(&pk, data, nil, sig)
	case keyOID.Equal(cms.OIDMLDSA87):
		var pk mldsa87.PublicKey
		if err := pk.UnmarshalBinary(key); err != nil {
			return fmt.Errorf("invalid ML-DSA-87 public key: %w", err)
		}
		ok = mldsa87.Verify(&pk, data, nil, sig)
	default:
		return fmt.Errorf("unsupported public key algorithm %v", keyOID)
	}
	if !ok {
		return fmt.Errorf("ML-DSA signature verification failed")
	}
	return nil
}
