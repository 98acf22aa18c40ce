package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// Functional Tests: Sign and Parse
// =============================================================================

func TestF_Sign_AlgorithmOIDs(t *testing.T) {
	tests := []struct {
		name    string
		signer  crypto.Signer
		digest  crypto.Hash
		pss     bool
		wantOID asn1.ObjectIdentifier
	}{
		{"[Functional] ECDSA P-256 SHA-256", generateECDSAKey(t, elliptic.P256()), crypto.SHA256, false, OIDECDSAWithSHA256},
		{"[Functional] ECDSA P-384 SHA-384", generateECDSAKey(t, elliptic.P384()), crypto.SHA384, false, OIDECDSAWithSHA384},
		{"[Functional] RSA SHA-256", generateRSAKey(t, 2048), crypto.SHA256, false, OIDSHA256WithRSA},
		{"[Functional] RSA-PSS SHA-256", generateRSAKey(t, 2048), crypto.SHA256, true, OIDRSAPSS},
		{"[Functional] Ed25519", generateEd25519Key(t), crypto.SHA512, false, OIDEd25519},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := generateTestCertificate(t, tt.signer)
			sd := signTestContent(t, []byte("test content"), &SignerConfig{
				Certificate:  cert,
				Signer:       tt.signer,
				DigestAlg:    tt.digest,
				Certificates: []*x509.Certificate{cert},
				RSAPSS:       tt.pss,
			})

			if len(sd.SignerInfos) != 1 {
				t.Fatalf("expected 1 SignerInfo, got %d", len(sd.SignerInfos))
			}
			si := sd.SignerInfos[0]
			if !si.SignatureAlgorithm.Algorithm.Equal(tt.wantOID) {
				t.Errorf("signature OID = %v, want %v", si.SignatureAlgorithm.Algorithm, tt.wantOID)
			}
			verifyTestSignature(t, cert.PublicKey, &si, tt.digest, tt.pss)
		})
	}
}

func TestF_Sign_MLDSA65(t *testing.T) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	// x509 cannot issue ML-DSA certificates; borrow an ECDSA certificate
	// only for its identifiers.
	cert := generateTestCertificate(t, generateECDSAKey(t, elliptic.P256()))

	sd := signTestContent(t, []byte("pq content"), &SignerConfig{
		Certificate: cert,
		Signer:      priv,
	})
	si := sd.SignerInfos[0]
	if !si.SignatureAlgorithm.Algorithm.Equal(OIDMLDSA65) {
		t.Fatalf("signature OID = %v, want %v", si.SignatureAlgorithm.Algorithm, OIDMLDSA65)
	}
	if !mldsa65.Verify(pub, si.SignedAttrsDER(), nil, si.Signature) {
		t.Error("ML-DSA-65 signature over signed attributes does not verify")
	}
}

func TestF_Sign_EmbedsContentAndCertificates(t *testing.T) {
	signer := generateECDSAKey(t, elliptic.P256())
	cert := generateTestCertificate(t, signer)
	content := []byte("encapsulated")

	sd := signTestContent(t, content, &SignerConfig{
		Certificate:  cert,
		Signer:       signer,
		ContentType:  OIDTSTInfo,
		Certificates: []*x509.Certificate{cert, cert},
	})

	if !sd.EncapContentInfo.EContentType.Equal(OIDTSTInfo) {
		t.Errorf("eContentType = %v, want %v", sd.EncapContentInfo.EContentType, OIDTSTInfo)
	}
	got, err := sd.EncapContentInfo.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content = %q, want %q", got, content)
	}

	certs, err := sd.ParseCertificates()
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}
	if len(certs) != 2 || !certs[0].Equal(cert) {
		t.Errorf("expected the signer certificate twice, got %d certificates", len(certs))
	}
}

func TestF_Sign_NoCertificates(t *testing.T) {
	signer := generateEd25519Key(t)
	cert := generateTestCertificate(t, signer)

	sd := signTestContent(t, []byte("x"), &SignerConfig{Certificate: cert, Signer: signer})
	certs, err := sd.ParseCertificates()
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}
	if len(certs) != 0 {
		t.Errorf("expected no certificates, got %d", len(certs))
	}
}

// =============================================================================
// Functional Tests: Signer Identifier
// =============================================================================

func TestF_SignerIdentifier_Match(t *testing.T) {
	signer := generateECDSAKey(t, elliptic.P256())
	cert := generateTestCertificate(t, signer)
	other := generateTestCertificate(t, generateECDSAKey(t, elliptic.P256()))

	for _, useSKI := range []bool{false, true} {
		sd := signTestContent(t, []byte("x"), &SignerConfig{
			Certificate:     cert,
			Signer:          signer,
			UseSubjectKeyID: useSKI,
		})
		si := sd.SignerInfos[0]
		if !si.MatchesCertificate(cert) {
			t.Errorf("useSKI=%v: SignerInfo does not match its certificate", useSKI)
		}
		if !useSKI && si.MatchesCertificate(other) {
			t.Error("issuerAndSerialNumber matched an unrelated certificate")
		}
		wantVersion := 1
		if useSKI {
			wantVersion = 3
		}
		if si.Version != wantVersion {
			t.Errorf("useSKI=%v: version = %d, want %d", useSKI, si.Version, wantVersion)
		}
	}
}

// =============================================================================
// Functional Tests: Signed Attributes
// =============================================================================

func TestF_SignedAttributes_Content(t *testing.T) {
	signer := generateECDSAKey(t, elliptic.P256())
	cert := generateTestCertificate(t, signer)
	content := []byte("attributes")

	sd := signTestContent(t, content, &SignerConfig{
		Certificate:        cert,
		Signer:             signer,
		ContentType:        OIDTSTInfo,
		SigningCertificate: SigningCertV2,
		SigningTime:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	attrs, err := sd.SignerInfos[0].Attributes()
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}

	ct, ok := FindAttribute(attrs, OIDContentType)
	if !ok {
		t.Fatal("content-type attribute missing")
	}
	var ctOID asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(ct.Values[0].FullBytes, &ctOID); err != nil || !ctOID.Equal(OIDTSTInfo) {
		t.Errorf("content-type = %v (err %v), want %v", ctOID, err, OIDTSTInfo)
	}

	md, ok := FindAttribute(attrs, OIDMessageDigest)
	if !ok {
		t.Fatal("message-digest attribute missing")
	}
	var digest []byte
	if _, err := asn1.Unmarshal(md.Values[0].FullBytes, &digest); err != nil {
		t.Fatalf("message-digest: %v", err)
	}
	want := sha256.Sum256(content)
	if diff := cmp.Diff(want[:], digest); diff != "" {
		t.Errorf("message-digest mismatch (-want +got):\n%s", diff)
	}

	sc, ok := FindAttribute(attrs, OIDSigningCertificateV2)
	if !ok {
		t.Fatal("signing-certificate-v2 attribute missing")
	}
	var scv2 SigningCertificateV2
	if _, err := asn1.Unmarshal(sc.Values[0].FullBytes, &scv2); err != nil {
		t.Fatalf("signing-certificate-v2: %v", err)
	}
	certHash := sha256.Sum256(cert.Raw)
	if len(scv2.Certs) != 1 || !bytes.Equal(scv2.Certs[0].CertHash, certHash[:]) {
		t.Error("signing-certificate-v2 does not bind the signer certificate")
	}

	if _, ok := FindAttribute(attrs, OIDSigningTime); !ok {
		t.Error("signing-time attribute missing")
	}
}

func TestF_SignedAttributes_MutateAttrs(t *testing.T) {
	signer := generateECDSAKey(t, elliptic.P256())
	cert := generateTestCertificate(t, signer)

	sd := signTestContent(t, []byte("x"), &SignerConfig{
		Certificate: cert,
		Signer:      signer,
		MutateAttrs: func(attrs []Attribute) []Attribute {
			var out []Attribute
			for _, a := range attrs {
				if !a.Type.Equal(OIDContentType) {
					out = append(out, a)
				}
			}
			return out
		},
	})
	attrs, err := sd.SignerInfos[0].Attributes()
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}
	if _, ok := FindAttribute(attrs, OIDContentType); ok {
		t.Error("content-type attribute should have been removed")
	}
}

func TestU_MarshalSignedAttrs_DEROrder(t *testing.T) {
	a, _ := NewMessageDigestAttr([]byte{0xff})
	b, _ := NewContentTypeAttr(OIDData)

	first, err := MarshalSignedAttrs([]Attribute{a, b})
	if err != nil {
		t.Fatalf("MarshalSignedAttrs failed: %v", err)
	}
	second, err := MarshalSignedAttrs([]Attribute{b, a})
	if err != nil {
		t.Fatalf("MarshalSignedAttrs failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("encoding depends on input order")
	}
	if first[0] != 0x31 {
		t.Errorf("expected SET tag 0x31, got 0x%02x", first[0])
	}

	implicit := ImplicitSignedAttrs(first)
	si := SignerInfo{SignedAttrs: implicit}
	if !bytes.Equal(si.SignedAttrsDER(), first) {
		t.Error("SignedAttrsDER does not restore the SET encoding")
	}
}

func TestU_Sign_MissingInputs(t *testing.T) {
	signer := generateEd25519Key(t)
	cert := generateTestCertificate(t, signer)

	if _, err := Sign(nil, &SignerConfig{Signer: signer}); err == nil {
		t.Error("expected error without certificate")
	}
	if _, err := Sign(nil, &SignerConfig{Certificate: cert}); err == nil {
		t.Error("expected error without signer")
	}
	_, err := Sign(nil, &SignerConfig{Certificate: cert, Signer: signer, DigestAlg: crypto.MD5})
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestU_ParseSignedData_Invalid(t *testing.T) {
	if _, err := ParseSignedData([]byte{0x30, 0x03, 0x02, 0x01}); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected ErrInvalidContent for truncated input, got %v", err)
	}

	data, _ := asn1.Marshal(ContentInfo{
		ContentType: OIDData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: []byte{0x04, 0x00}},
	})
	if _, err := ParseSignedData(data); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected ErrInvalidContent for id-data, got %v", err)
	}
}

func TestU_HashTable(t *testing.T) {
	for _, h := range []crypto.Hash{crypto.SHA1, crypto.SHA224, crypto.SHA256, crypto.SHA384, crypto.SHA512, crypto.SHA3_256, crypto.SHA3_384, crypto.SHA3_512} {
		oid, ok := OIDFromHash(h)
		if !ok {
			t.Errorf("%v: no OID", h)
			continue
		}
		back, ok := HashFromOID(oid)
		if !ok || back != h {
			t.Errorf("%v: OID %v maps back to %v", h, oid, back)
		}
		sum, err := Digest(h, []byte("foo"))
		if err != nil || len(sum) != h.Size() {
			t.Errorf("%v: digest length %d (err %v), want %d", h, len(sum), err, h.Size())
		}
	}
}

func verifyTestSignature(t *testing.T, pub crypto.PublicKey, si *SignerInfo, h crypto.Hash, pss bool) {
	t.Helper()
	data := si.SignedAttrsDER()
	switch key := pub.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(key, data, si.Signature) {
			t.Error("Ed25519 signature does not verify")
		}
		return
	}
	digest, err := Digest(h, data)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, si.Signature) {
			t.Error("ECDSA signature does not verify")
		}
	case *rsa.PublicKey:
		if pss {
			err = rsa.VerifyPSS(key, h, digest, si.Signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
		} else {
			err = rsa.VerifyPKCS1v15(key, h, digest, si.Signature)
		}
		if err != nil {
			t.Errorf("RSA signature does not verify: %v", err)
		}
	}
}
