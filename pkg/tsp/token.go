package tsp

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/remiblancher/trustedts/pkg/cms"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
// GenTime is kept raw so its precision and zone survive decoding.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        asn1.RawValue
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp (RFC 3161 Section 2.4.2).
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// IsZero returns true if the accuracy is zero.
func (a Accuracy) IsZero() bool {
	return a.Seconds == 0 && a.Millis == 0 && a.Micros == 0
}

// Duration returns the accuracy as a time.Duration.
func (a Accuracy) Duration() time.Duration {
	return time.Duration(a.Seconds)*time.Second +
		time.Duration(a.Millis)*time.Millisecond +
		time.Duration(a.Micros)*time.Microsecond
}

// Token is a decoded timestamp token: the CMS SignedData and its TSTInfo.
type Token struct {
	Raw []byte // DER ContentInfo

	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time // normalized to UTC
	GenTimeRaw     string    // GeneralizedTime as encoded by the TSA
	Accuracy       Accuracy
	Ordering       bool
	Nonce          *big.Int
	TSAName        string // directoryName of the TSA field, if any

	Certificates []*x509.Certificate
	SignedData   *cms.SignedData
	SignerInfo   *cms.SignerInfo
	EContent     []byte // DER TSTInfo
}

// ParseToken decodes a DER timestamp token (a ContentInfo holding SignedData).
func ParseToken(raw []byte, opts ...ParseOption) (*Token, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}
	return parseToken(raw, o.strictGenTime)
}

func parseToken(raw []byte, strict bool) (*Token, error) {
	sd, err := cms.ParseSignedData(raw)
	if err != nil {
		return nil, newError("parse", KindResponseParse, err)
	}
	switch sd.Version {
	case 1, 3, 4, 5:
	default:
		return nil, errorf("parse", KindResponseParse, "unsupported SignedData version %d", sd.Version)
	}
	if len(sd.SignerInfos) != 1 {
		return nil, errorf("parse", KindResponseParse, "timestamp token must have exactly one SignerInfo, got %d", len(sd.SignerInfos))
	}
	if !sd.EncapContentInfo.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, errorf("parse", KindResponseParse, "unexpected encapsulated content type %v", sd.EncapContentInfo.EContentType)
	}
	content, err := sd.EncapContentInfo.Content()
	if err != nil {
		return nil, newError("parse", KindResponseParse, err)
	}

	var info TSTInfo
	rest, err := asn1.Unmarshal(content, &info)
	if err != nil {
		return nil, errorf("parse", KindResponseParse, "failed to parse TSTInfo: %v", err)
	}
	if len(rest) > 0 {
		return nil, errorf("parse", KindResponseParse, "trailing data after TSTInfo")
	}
	if info.Version != 1 {
		return nil, errorf("parse", KindResponseParse, "unsupported TSTInfo version %d", info.Version)
	}
	genTime, err := parseGenTime(info.GenTime, strict)
	if err != nil {
		return nil, newError("parse", KindResponseParse, err)
	}

	certs, err := sd.ParseCertificates()
	if err != nil {
		return nil, newError("parse", KindResponseParse, err)
	}

	return &Token{
		Raw:            bytes.Clone(raw),
		Version:        info.Version,
		Policy:         info.Policy,
		MessageImprint: info.MessageImprint,
		SerialNumber:   info.SerialNumber,
		GenTime:        genTime,
		GenTimeRaw:     string(info.GenTime.Bytes),
		Accuracy:       info.Accuracy,
		Ordering:       info.Ordering,
		Nonce:          info.Nonce,
		TSAName:        generalNameString(info.TSA),
		Certificates:   certs,
		SignedData:     sd,
		SignerInfo:     &sd.SignerInfos[0],
		EContent:       content,
	}, nil
}

// Digest returns the message imprint as a Digest. It fails when the imprint
// uses an unsupported algorithm or has the wrong length.
func (t *Token) Digest() (Digest, error) {
	return t.MessageImprint.Digest()
}

// generalNameString renders the [0] EXPLICIT GeneralName of TSTInfo.tsa.
// Only directoryName is rendered.
func generalNameString(rv asn1.RawValue) string {
	if len(rv.Bytes) == 0 {
		return ""
	}
	var gn asn1.RawValue
	if _, err := asn1.Unmarshal(rv.Bytes, &gn); err != nil {
		return ""
	}
	if gn.Class != asn1.ClassContextSpecific || gn.Tag != 4 {
		return ""
	}
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(gn.Bytes, &rdn); err != nil {
		return ""
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return name.String()
}

// DirectoryName encodes the subject of cert as the TSTInfo.tsa GeneralName.
func DirectoryName(cert *x509.Certificate) asn1.RawValue {
	gn, _ := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        4,
		IsCompound: true,
		Bytes:      cert.RawSubject,
	})
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      gn,
	}
}
