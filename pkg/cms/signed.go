package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
)

// ContentInfo is the top-level CMS structure.
//
//	ContentInfo ::= SEQUENCE {
//	  contentType ContentType,
//	  content [0] EXPLICIT ANY DEFINED BY contentType }
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents the SignedData structure (RFC 5652 Section 5.1).
// Certificates and CRLs are kept raw; use ParseCertificates to decode them.
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []SignerInfo  `asn1:"set"`
}

// EncapsulatedContentInfo contains the signed content.
//
// When decoded, EContent holds the [0] wrapper itself; its Bytes are the
// DER of the inner OCTET STRING. Use Content to extract the octets.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// NewEncapsulatedContentInfo wraps content in an EncapsulatedContentInfo
// ready for marshaling.
func NewEncapsulatedContentInfo(contentType asn1.ObjectIdentifier, content []byte) (EncapsulatedContentInfo, error) {
	octets, err := asn1.Marshal(content)
	if err != nil {
		return EncapsulatedContentInfo{}, err
	}
	return EncapsulatedContentInfo{
		EContentType: contentType,
		EContent: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      octets,
		},
	}, nil
}

// Content returns the encapsulated content octets.
func (e EncapsulatedContentInfo) Content() ([]byte, error) {
	if len(e.EContent.Bytes) == 0 {
		return nil, fmt.Errorf("%w: no encapsulated content", ErrInvalidContent)
	}
	var octets []byte
	rest, err := asn1.Unmarshal(e.EContent.Bytes, &octets)
	if err != nil {
		return nil, fmt.Errorf("%w: eContent: %v", ErrInvalidContent, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after eContent", ErrInvalidContent)
	}
	return octets, nil
}

// SignerInfo contains signer information (RFC 5652 Section 5.3).
//
// SID is either an IssuerAndSerialNumber SEQUENCE or a [0] subjectKeyIdentifier.
// SignedAttrs keeps the original encoding so the signature can be checked
// over the exact bytes the signer produced.
type SignerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// NewIssuerAndSerialSID builds a SignerIdentifier for cert using issuerAndSerialNumber.
func NewIssuerAndSerialSID(cert *x509.Certificate) (asn1.RawValue, error) {
	der, err := asn1.Marshal(IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
		SerialNumber: cert.SerialNumber,
	})
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// NewSubjectKeyIDSID builds a SignerIdentifier for cert using [0] subjectKeyIdentifier.
func NewSubjectKeyIDSID(cert *x509.Certificate) (asn1.RawValue, error) {
	if len(cert.SubjectKeyId) == 0 {
		return asn1.RawValue{}, fmt.Errorf("certificate has no subject key identifier")
	}
	der, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassContextSpecific,
		Tag:   0,
		Bytes: cert.SubjectKeyId,
	})
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// MatchesCertificate reports whether the SignerInfo identifies cert.
func (si *SignerInfo) MatchesCertificate(cert *x509.Certificate) bool {
	switch {
	case si.SID.Class == asn1.ClassUniversal && si.SID.Tag == asn1.TagSequence:
		var ias IssuerAndSerialNumber
		if _, err := asn1.Unmarshal(si.SID.FullBytes, &ias); err != nil {
			return false
		}
		return bytes.Equal(ias.Issuer.FullBytes, cert.RawIssuer) &&
			ias.SerialNumber != nil && ias.SerialNumber.Cmp(cert.SerialNumber) == 0
	case si.SID.Class == asn1.ClassContextSpecific && si.SID.Tag == 0:
		return len(cert.SubjectKeyId) > 0 && bytes.Equal(si.SID.Bytes, cert.SubjectKeyId)
	}
	return false
}

// Attributes decodes the signed attributes. It returns nil when the
// SignerInfo carries none.
func (si *SignerInfo) Attributes() ([]Attribute, error) {
	if len(si.SignedAttrs.FullBytes) == 0 {
		return nil, nil
	}
	return parseAttributeSet(si.SignedAttrs.Bytes)
}

// SignedAttrsDER returns the DER encoding of the signed attributes as
// covered by the signature: the [0] IMPLICIT tag is replaced by SET OF.
func (si *SignerInfo) SignedAttrsDER() []byte {
	if len(si.SignedAttrs.FullBytes) == 0 {
		return nil
	}
	der := make([]byte, len(si.SignedAttrs.FullBytes))
	copy(der, si.SignedAttrs.FullBytes)
	der[0] = 0x31
	return der
}

func parseAttributeSet(data []byte) ([]Attribute, error) {
	var attrs []Attribute
	for len(data) > 0 {
		var attr Attribute
		rest, err := asn1.Unmarshal(data, &attr)
		if err != nil {
			return nil, fmt.Errorf("%w: signed attribute: %v", ErrInvalidContent, err)
		}
		attrs = append(attrs, attr)
		data = rest
	}
	return attrs, nil
}

// FindAttribute returns the first attribute of the given type.
func FindAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) (*Attribute, bool) {
	for i := range attrs {
		if attrs[i].Type.Equal(oid) {
			return &attrs[i], true
		}
	}
	return nil, false
}

// NewAttribute creates an attribute with a single value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: encoded}},
	}, nil
}

// NewContentTypeAttr creates a content-type attribute.
func NewContentTypeAttr(contentType asn1.ObjectIdentifier) (Attribute, error) {
	return NewAttribute(OIDContentType, contentType)
}

// NewMessageDigestAttr creates a message-digest attribute.
func NewMessageDigestAttr(digest []byte) (Attribute, error) {
	return NewAttribute(OIDMessageDigest, digest)
}

// ESSCertID identifies a certificate by its SHA-1 hash (RFC 2634).
type ESSCertID struct {
	CertHash     []byte
	IssuerSerial asn1.RawValue `asn1:"optional"`
}

// SigningCertificate is the signing-certificate attribute value (RFC 2634).
type SigningCertificate struct {
	Certs    []ESSCertID
	Policies asn1.RawValue `asn1:"optional"`
}

// ESSCertIDv2 identifies a certificate by hash (RFC 5035).
// HashAlgorithm defaults to SHA-256 when absent.
type ESSCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  asn1.RawValue `asn1:"optional"`
}

// SigningCertificateV2 is the signing-certificate-v2 attribute value (RFC 5035).
type SigningCertificateV2 struct {
	Certs    []ESSCertIDv2
	Policies asn1.RawValue `asn1:"optional"`
}

// NewSigningCertificateV2Attr creates a signing-certificate-v2 attribute
// binding cert to the signature using SHA-256.
func NewSigningCertificateV2Attr(cert *x509.Certificate) (Attribute, error) {
	certHash := hashBytes(OIDSHA256, cert.Raw)
	return NewAttribute(OIDSigningCertificateV2, SigningCertificateV2{
		Certs: []ESSCertIDv2{{
			// SHA-256 is the DEFAULT and is omitted from the encoding.
			CertHash: certHash,
		}},
	})
}

// NewSigningCertificateAttr creates a v1 signing-certificate attribute (SHA-1).
func NewSigningCertificateAttr(cert *x509.Certificate) (Attribute, error) {
	return NewAttribute(OIDSigningCertificate, SigningCertificate{
		Certs: []ESSCertID{{CertHash: hashBytes(OIDSHA1, cert.Raw)}},
	})
}

// MarshalSignedAttrs encodes attributes as a DER SET OF, ordered by
// their encodings as DER requires.
func MarshalSignedAttrs(attrs []Attribute) ([]byte, error) {
	encoded := make([][]byte, len(attrs))
	for i, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attribute: %w", err)
		}
		encoded[i] = der
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	var content []byte
	for _, e := range encoded {
		content = append(content, e...)
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      content,
	})
}

// ImplicitSignedAttrs turns a SET OF encoding into the [0] IMPLICIT value
// carried in a SignerInfo.
func ImplicitSignedAttrs(setDER []byte) asn1.RawValue {
	der := make([]byte, len(setDER))
	copy(der, setDER)
	der[0] = 0xA0
	var rv asn1.RawValue
	if _, err := asn1.Unmarshal(der, &rv); err != nil {
		return asn1.RawValue{FullBytes: der}
	}
	return rv
}
