package tsp

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/remiblancher/trustedts/pkg/cms"
)

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// NewMessageImprint creates the MessageImprint for d.
func NewMessageImprint(d Digest) MessageImprint {
	oid, _ := cms.OIDFromHash(d.alg)
	return MessageImprint{
		HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		HashedMessage: d.Value(),
	}
}

// Digest returns the imprint as a Digest.
func (m MessageImprint) Digest() (Digest, error) {
	h, ok := cms.HashFromOID(m.HashAlgorithm.Algorithm)
	if !ok {
		return Digest{}, errorf("digest", KindMalformedDigest, "unsupported hash algorithm %v", m.HashAlgorithm.Algorithm)
	}
	return NewDigest(h, m.HashedMessage)
}

// Request is an encoded TimeStampReq together with the values it was built from.
type Request struct {
	Raw     []byte // DER TimeStampReq
	Digest  Digest
	Nonce   *big.Int
	Policy  asn1.ObjectIdentifier
	CertReq bool
}

type requestOptions struct {
	nonce       *big.Int
	randomNonce bool
	policy      asn1.ObjectIdentifier
	certReq     bool
}

// RequestOption configures BuildRequest.
type RequestOption func(*requestOptions)

// WithNonce sets the request nonce.
func WithNonce(nonce *big.Int) RequestOption {
	return func(o *requestOptions) {
		o.randomNonce = false
		o.nonce = nil
		if nonce != nil {
			o.nonce = new(big.Int).Set(nonce)
		}
	}
}

// WithRandomNonce sets a random 64-bit request nonce.
func WithRandomNonce() RequestOption {
	return func(o *requestOptions) {
		o.nonce = nil
		o.randomNonce = true
	}
}

// WithPolicy requests a specific TSA policy.
func WithPolicy(policy asn1.ObjectIdentifier) RequestOption {
	return func(o *requestOptions) {
		o.policy = append(asn1.ObjectIdentifier(nil), policy...)
	}
}

// WithoutCertReq clears certReq, so the TSA may omit its certificate.
func WithoutCertReq() RequestOption {
	return func(o *requestOptions) {
		o.certReq = false
	}
}

// GenerateNonce returns a random positive 64-bit nonce.
func GenerateNonce() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
}

// BuildRequest encodes a TimeStampReq for d. certReq is set and no nonce
// is included unless options say otherwise.
func BuildRequest(d Digest, opts ...RequestOption) (*Request, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	o := requestOptions{certReq: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.randomNonce {
		nonce, err := GenerateNonce()
		if err != nil {
			return nil, errorf("request", KindMalformedRequest, "failed to generate nonce: %v", err)
		}
		o.nonce = nonce
	}

	req := TimeStampReq{
		Version:        1,
		MessageImprint: NewMessageImprint(d),
		ReqPolicy:      o.policy,
		Nonce:          o.nonce,
		CertReq:        o.certReq,
	}
	raw, err := asn1.Marshal(req)
	if err != nil {
		return nil, newError("request", KindMalformedRequest, err)
	}

	return &Request{
		Raw:     raw,
		Digest:  d,
		Nonce:   o.nonce,
		Policy:  o.policy,
		CertReq: o.certReq,
	}, nil
}

// ParseRequest decodes and checks a DER TimeStampReq.
func ParseRequest(raw []byte) (*Request, error) {
	var req TimeStampReq
	rest, err := asn1.Unmarshal(raw, &req)
	if err != nil {
		return nil, errorf("request", KindMalformedRequest, "failed to parse TimeStampReq: %v", err)
	}
	if len(rest) > 0 {
		return nil, errorf("request", KindMalformedRequest, "trailing data after TimeStampReq")
	}
	if req.Version != 1 {
		return nil, errorf("request", KindMalformedRequest, "unsupported TSP version: %d", req.Version)
	}

	d, err := req.MessageImprint.Digest()
	if err != nil {
		return nil, err
	}

	return &Request{
		Raw:     bytes.Clone(raw),
		Digest:  d,
		Nonce:   req.Nonce,
		Policy:  req.ReqPolicy,
		CertReq: req.CertReq,
	}, nil
}

// HashAlgorithm returns the algorithm of the request digest.
func (r *Request) HashAlgorithm() crypto.Hash { return r.Digest.alg }

// String summarizes the request for logs.
func (r *Request) String() string {
	s := fmt.Sprintf("imprint=%s certReq=%t", r.Digest, r.CertReq)
	if r.Nonce != nil {
		s += fmt.Sprintf(" nonce=%s", r.Nonce.Text(16))
	}
	if len(r.Policy) > 0 {
		s += fmt.Sprintf(" policy=%s", r.Policy)
	}
	return s
}
