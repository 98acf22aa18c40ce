package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// SigningCertAttr selects which ESS signing-certificate attribute Sign adds.
type SigningCertAttr int

const (
	SigningCertNone SigningCertAttr = iota
	SigningCertV1
	SigningCertV2
)

// OIDMGF1 is the MGF1 mask generation function (RFC 8017).
var OIDMGF1 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}

// PSSParameters is RSASSA-PSS-params (RFC 4055).
type PSSParameters struct {
	Hash         pkix.AlgorithmIdentifier `asn1:"explicit,tag:0,optional"`
	MGF          pkix.AlgorithmIdentifier `asn1:"explicit,tag:1,optional"`
	SaltLength   int                      `asn1:"explicit,tag:2,optional,default:20"`
	TrailerField int                      `asn1:"explicit,tag:3,optional,default:1"`
}

// SignerConfig contains options for signing.
type SignerConfig struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	DigestAlg   crypto.Hash // defaults to SHA-256

	// Certificates embedded in SignedData. Nil embeds none.
	Certificates []*x509.Certificate

	ContentType        asn1.ObjectIdentifier // defaults to id-data
	SigningTime        time.Time             // zero omits the attribute
	SigningCertificate SigningCertAttr
	UseSubjectKeyID    bool // identify the signer by SKI instead of issuer/serial
	RSAPSS             bool

	// MutateAttrs, when set, rewrites the signed attributes before they
	// are encoded and signed. It exists to produce malformed tokens.
	MutateAttrs func([]Attribute) []Attribute
}

// Sign creates a CMS ContentInfo wrapping an attached SignedData over content.
func Sign(content []byte, config *SignerConfig) ([]byte, error) {
	if config.Certificate == nil {
		return nil, NewCMSError("sign", fmt.Errorf("certificate is required"))
	}
	if config.Signer == nil {
		return nil, NewCMSError("sign", fmt.Errorf("signer is required"))
	}
	digestAlg := config.DigestAlg
	if digestAlg == 0 {
		digestAlg = crypto.SHA256
	}
	contentType := config.ContentType
	if len(contentType) == 0 {
		contentType = OIDData
	}

	digest, err := Digest(digestAlg, content)
	if err != nil {
		return nil, err
	}

	signedAttrs, err := buildSignedAttrs(config, contentType, digest)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to build signed attributes: %w", err))
	}
	if config.MutateAttrs != nil {
		signedAttrs = config.MutateAttrs(signedAttrs)
	}

	signedAttrsDER, err := MarshalSignedAttrs(signedAttrs)
	if err != nil {
		return nil, NewCMSError("sign", err)
	}

	sigAlgID, err := signatureAlgorithmIdentifier(config.Signer.Public(), digestAlg, config.RSAPSS)
	if err != nil {
		return nil, NewCMSError("sign", err)
	}
	signature, err := signData(signedAttrsDER, config.Signer, digestAlg, config.RSAPSS)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to sign: %w", err))
	}

	version := 1
	var sid asn1.RawValue
	if config.UseSubjectKeyID {
		version = 3
		sid, err = NewSubjectKeyIDSID(config.Certificate)
	} else {
		sid, err = NewIssuerAndSerialSID(config.Certificate)
	}
	if err != nil {
		return nil, NewCMSError("sign", err)
	}

	digestOID, _ := OIDFromHash(digestAlg)
	digestAlgID := pkix.AlgorithmIdentifier{Algorithm: digestOID}

	encap, err := NewEncapsulatedContentInfo(contentType, content)
	if err != nil {
		return nil, NewCMSError("sign", err)
	}

	signedData := SignedData{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlgID},
		EncapContentInfo: encap,
		SignerInfos: []SignerInfo{{
			Version:            version,
			SID:                sid,
			DigestAlgorithm:    digestAlgID,
			SignedAttrs:        ImplicitSignedAttrs(signedAttrsDER),
			SignatureAlgorithm: sigAlgID,
			Signature:          signature,
		}},
	}
	if len(config.Certificates) > 0 {
		var raw []byte
		for _, c := range config.Certificates {
			raw = append(raw, c.Raw...)
		}
		signedData.Certificates = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      raw,
		}
	}

	signedDataDER, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to marshal SignedData: %w", err))
	}

	return asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: signedDataDER},
	})
}

func buildSignedAttrs(config *SignerConfig, contentType asn1.ObjectIdentifier, digest []byte) ([]Attribute, error) {
	var attrs []Attribute

	ctAttr, err := NewContentTypeAttr(contentType)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, ctAttr)

	mdAttr, err := NewMessageDigestAttr(digest)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, mdAttr)

	if !config.SigningTime.IsZero() {
		stAttr, err := NewAttribute(OIDSigningTime, config.SigningTime.UTC())
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, stAttr)
	}

	var certAttr Attribute
	switch config.SigningCertificate {
	case SigningCertV1:
		certAttr, err = NewSigningCertificateAttr(config.Certificate)
	case SigningCertV2:
		certAttr, err = NewSigningCertificateV2Attr(config.Certificate)
	default:
		return attrs, nil
	}
	if err != nil {
		return nil, err
	}
	return append(attrs, certAttr), nil
}

func signData(data []byte, signer crypto.Signer, digestAlg crypto.Hash, pss bool) ([]byte, error) {
	switch signer.Public().(type) {
	case ed25519.PublicKey, *mldsa44.PublicKey, *mldsa65.PublicKey, *mldsa87.PublicKey:
		// Pure signature schemes sign the attributes directly.
		return signer.Sign(rand.Reader, data, crypto.Hash(0))
	}

	digest, err := Digest(digestAlg, data)
	if err != nil {
		return nil, err
	}
	if _, ok := signer.Public().(*rsa.PublicKey); ok && pss {
		return signer.Sign(rand.Reader, digest, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       digestAlg,
		})
	}
	return signer.Sign(rand.Reader, digest, digestAlg)
}

func signatureAlgorithmIdentifier(pub crypto.PublicKey, digestAlg crypto.Hash, pss bool) (pkix.AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		switch digestAlg {
		case crypto.SHA1:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA1}, nil
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA256}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA384}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA512}, nil
		}
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: ECDSA with %v", ErrUnsupportedAlgorithm, digestAlg)
	case *rsa.PublicKey:
		if pss {
			return pssAlgorithmIdentifier(digestAlg)
		}
		switch digestAlg {
		case crypto.SHA1:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA1WithRSA, Parameters: asn1.NullRawValue}, nil
		case crypto.SHA224:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA224WithRSA, Parameters: asn1.NullRawValue}, nil
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256WithRSA, Parameters: asn1.NullRawValue}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384WithRSA, Parameters: asn1.NullRawValue}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512WithRSA, Parameters: asn1.NullRawValue}, nil
		}
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: RSA with %v", ErrUnsupportedAlgorithm, digestAlg)
	case ed25519.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd25519}, nil
	case *mldsa44.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA44}, nil
	case *mldsa65.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA65}, nil
	case *mldsa87.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA87}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: public key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

func pssAlgorithmIdentifier(digestAlg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	hashOID, ok := OIDFromHash(digestAlg)
	if !ok {
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: RSA-PSS with %v", ErrUnsupportedAlgorithm, digestAlg)
	}
	hashAlg := pkix.AlgorithmIdentifier{Algorithm: hashOID, Parameters: asn1.NullRawValue}
	mgfParams, err := asn1.Marshal(hashAlg)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	params, err := asn1.Marshal(PSSParameters{
		Hash:         hashAlg,
		MGF:          pkix.AlgorithmIdentifier{Algorithm: OIDMGF1, Parameters: asn1.RawValue{FullBytes: mgfParams}},
		SaltLength:   digestAlg.Size(),
		TrailerField: 1,
	})
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	return pkix.AlgorithmIdentifier{Algorithm: OIDRSAPSS, Parameters: asn1.RawValue{FullBytes: params}}, nil
}
