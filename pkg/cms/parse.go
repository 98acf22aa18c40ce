package cms

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
)

// ParseContentInfo parses a CMS ContentInfo structure.
func ParseContentInfo(data []byte) (*ContentInfo, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(data, &ci)
	if err != nil {
		return nil, NewCMSError("parse", fmt.Errorf("%w: ContentInfo: %v", ErrInvalidContent, err))
	}
	if len(rest) > 0 {
		return nil, NewCMSError("parse", fmt.Errorf("%w: trailing data after ContentInfo", ErrInvalidContent))
	}
	return &ci, nil
}

// ParseSignedData parses a CMS SignedData structure from raw DER bytes.
// The input should be a complete ContentInfo containing SignedData.
func ParseSignedData(data []byte) (*SignedData, error) {
	ci, err := ParseContentInfo(data)
	if err != nil {
		return nil, err
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, NewCMSError("parse", fmt.Errorf("%w: not a SignedData structure, got OID %v", ErrInvalidContent, ci.ContentType))
	}

	var sd SignedData
	rest, err := asn1.Unmarshal(ci.Content.Bytes, &sd)
	if err != nil {
		return nil, NewCMSError("parse", fmt.Errorf("%w: SignedData: %v", ErrInvalidContent, err))
	}
	if len(rest) > 0 {
		return nil, NewCMSError("parse", fmt.Errorf("%w: trailing data after SignedData", ErrInvalidContent))
	}
	return &sd, nil
}

// ParseCertificates decodes the certificates embedded in SignedData.
// Non-X.509 certificate choices are rejected.
func (sd *SignedData) ParseCertificates() ([]*x509.Certificate, error) {
	if len(sd.Certificates.Bytes) == 0 {
		return nil, nil
	}
	certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
	if err != nil {
		return nil, NewCMSError("parse", fmt.Errorf("%w: certificates: %v", ErrInvalidContent, err))
	}
	return certs, nil
}
