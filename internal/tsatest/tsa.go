package tsatest

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/remiblancher/trustedts/pkg/cms"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

// DefaultPolicy is the TSA policy used unless WithPolicy is given.
var DefaultPolicy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 1}

// Tamper selects a deliberate corruption of issued tokens.
type Tamper int

const (
	TamperNone Tamper = iota
	// TamperSignature flips a bit of the SignerInfo signature.
	TamperSignature
	// TamperContent re-encodes TSTInfo with another serial number after signing.
	TamperContent
)

type config struct {
	clock           func() time.Time
	genTimeLayout   string
	genTimeLocation *time.Location
	keyType         KeyType
	pss             bool
	digestAlg       crypto.Hash
	policy          asn1.ObjectIdentifier
	accuracy        tsp.Accuracy
	includeTSAName  bool
	intermediate    bool
	omitCerts       bool
	noEKU           bool
	notBefore       time.Time
	notAfter        time.Time
	ocspServer      string
	signingCert     cms.SigningCertAttr
	useSKI          bool
	nonceOverride   *big.Int
	tamper          Tamper
	mutateAttrs     func([]cms.Attribute) []cms.Attribute
}

// Option configures a TSA.
type Option func(*config)

// WithClock sets the TSA clock. GenTime is taken from it verbatim.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.clock = now }
}

// WithGenTimeFormat encodes GenTime with a Go time layout in loc, e.g.
// "20060102150405.000Z0700". A nil loc means UTC.
func WithGenTimeFormat(layout string, loc *time.Location) Option {
	return func(c *config) {
		c.genTimeLayout = layout
		c.genTimeLocation = loc
	}
}

// WithKeyType selects the TSA signing key type.
func WithKeyType(k KeyType) Option {
	return func(c *config) { c.keyType = k }
}

// WithRSAPSS signs with RSASSA-PSS. It implies an RSA key.
func WithRSAPSS() Option {
	return func(c *config) {
		c.keyType = KeyRSA2048
		c.pss = true
	}
}

// WithDigestAlgorithm sets the SignerInfo digest algorithm.
func WithDigestAlgorithm(h crypto.Hash) Option {
	return func(c *config) { c.digestAlg = h }
}

// WithPolicy sets the TSA policy.
func WithPolicy(policy asn1.ObjectIdentifier) Option {
	return func(c *config) { c.policy = policy }
}

// WithAccuracy sets the accuracy reported in tokens.
func WithAccuracy(a tsp.Accuracy) Option {
	return func(c *config) { c.accuracy = a }
}

// WithTSAName includes the TSA directoryName in tokens.
func WithTSAName() Option {
	return func(c *config) { c.includeTSAName = true }
}

// WithIntermediate issues the TSA certificate from an intermediate CA.
func WithIntermediate() Option {
	return func(c *config) { c.intermediate = true }
}

// WithoutCertificates never embeds certificates, whatever certReq says.
func WithoutCertificates() Option {
	return func(c *config) { c.omitCerts = true }
}

// WithoutTimeStampingEKU issues the TSA certificate for code signing only.
func WithoutTimeStampingEKU() Option {
	return func(c *config) { c.noEKU = true }
}

// WithValidity sets the TSA certificate validity period.
func WithValidity(notBefore, notAfter time.Time) Option {
	return func(c *config) {
		c.notBefore = notBefore
		c.notAfter = notAfter
	}
}

// WithOCSPServer sets the OCSP responder URL in the TSA certificate.
func WithOCSPServer(url string) Option {
	return func(c *config) { c.ocspServer = url }
}

// WithSigningCertificate selects the ESS attribute to include.
func WithSigningCertificate(v cms.SigningCertAttr) Option {
	return func(c *config) { c.signingCert = v }
}

// WithSubjectKeyID identifies the signer by subjectKeyIdentifier.
func WithSubjectKeyID() Option {
	return func(c *config) { c.useSKI = true }
}

// WithNonceOverride answers every request with nonce instead of echoing it.
func WithNonceOverride(nonce *big.Int) Option {
	return func(c *config) { c.nonceOverride = nonce }
}

// WithTamper corrupts issued tokens.
func WithTamper(t Tamper) Option {
	return func(c *config) { c.tamper = t }
}

// WithMutateAttrs rewrites the signed attributes before signing.
func WithMutateAttrs(fn func([]cms.Attribute) []cms.Attribute) Option {
	return func(c *config) { c.mutateAttrs = fn }
}

// TSA is a Time-Stamp Authority for tests. It is safe for concurrent use.
type TSA struct {
	cfg          config
	Root         *Authority
	Intermediate *Authority // nil unless WithIntermediate
	Signer       *Authority

	mu        sync.Mutex
	issued    int
	revokedAt time.Time
}

// New creates a TSA with a fresh CA hierarchy.
func New(opts ...Option) (*TSA, error) {
	cfg := config{
		clock:       func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		keyType:     KeyECDSAP256,
		digestAlg:   crypto.SHA256,
		policy:      DefaultPolicy,
		accuracy:    tsp.Accuracy{Seconds: 1},
		signingCert: cms.SigningCertV2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	now := time.Now()
	if cfg.notBefore.IsZero() {
		cfg.notBefore = now.Add(-time.Hour)
	}
	if cfg.notAfter.IsZero() {
		cfg.notAfter = now.Add(365 * 24 * time.Hour)
	}

	root, err := NewRootCA("Test Root CA", now)
	if err != nil {
		return nil, err
	}
	issuer := root
	var inter *Authority
	if cfg.intermediate {
		inter, err = root.NewSubCA("Test Intermediate CA", now)
		if err != nil {
			return nil, err
		}
		issuer = inter
	}
	signer, err := issuer.newTSACert(leafConfig{
		keyType:    cfg.keyType,
		notBefore:  cfg.notBefore,
		notAfter:   cfg.notAfter,
		noEKU:      cfg.noEKU,
		ocspServer: cfg.ocspServer,
	})
	if err != nil {
		return nil, err
	}

	return &TSA{cfg: cfg, Root: root, Intermediate: inter, Signer: signer}, nil
}

// Certificate returns the TSA signing certificate.
func (t *TSA) Certificate() *x509.Certificate { return t.Signer.Cert }

// Issuer returns the CA that issued the TSA certificate.
func (t *TSA) Issuer() *Authority {
	if t.Intermediate != nil {
		return t.Intermediate
	}
	return t.Root
}

// Anchor returns a trust anchor for the TSA root. The intermediate, if
// any, is not included; tokens embed it.
func (t *TSA) Anchor() *tsp.TrustAnchor {
	return tsp.NewTrustAnchor(t.Root.Cert)
}

// Issued returns the number of tokens issued so far.
func (t *TSA) Issued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issued
}

// Respond answers a DER TimeStampReq with a DER TimeStampResp. Requests
// the TSA cannot serve get a rejection response, as a real TSA would.
func (t *TSA) Respond(reqDER []byte) ([]byte, error) {
	req, err := tsp.ParseRequest(reqDER)
	if err != nil {
		fail := tsp.FailBadDataFormat
		if errors.Is(err, tsp.ErrMalformedDigest) {
			fail = tsp.FailBadAlg
		}
		return Rejection(tsp.StatusRejection, err.Error(), fail)
	}
	if len(req.Policy) > 0 && !req.Policy.Equal(t.cfg.policy) {
		return Rejection(tsp.StatusRejection, "unsupported policy", tsp.FailUnacceptedPolicy)
	}

	token, err := t.issueToken(req)
	if err != nil {
		return Rejection(tsp.StatusRejection, err.Error(), tsp.FailSystemFailure)
	}
	return asn1.Marshal(tsp.TimeStampResp{
		Status:         tsp.PKIStatusInfo{Status: tsp.StatusGranted},
		TimeStampToken: asn1.RawValue{FullBytes: token},
	})
}

// Stamp builds a request for d, answers it and returns both.
func (t *TSA) Stamp(d tsp.Digest, opts ...tsp.RequestOption) (*tsp.Request, []byte, error) {
	req, err := tsp.BuildRequest(d, opts...)
	if err != nil {
		return nil, nil, err
	}
	resp, err := t.Respond(req.Raw)
	if err != nil {
		return nil, nil, err
	}
	return req, resp, nil
}

// Rejection encodes a TimeStampResp without token.
func Rejection(status int, text string, failBits ...int) ([]byte, error) {
	info := tsp.PKIStatusInfo{
		Status:   status,
		FailInfo: tsp.FailureInfoBitString(failBits...),
	}
	if text != "" {
		info.StatusString = []string{text}
	}
	return asn1.Marshal(tsp.TimeStampResp{Status: info})
}

func (t *TSA) issueToken(req *tsp.Request) ([]byte, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	info := tsp.TSTInfo{
		Version:        1,
		Policy:         t.cfg.policy,
		MessageImprint: tsp.NewMessageImprint(req.Digest),
		SerialNumber:   serial,
		GenTime:        t.genTime(),
		Accuracy:       t.cfg.accuracy,
		Nonce:          req.Nonce,
	}
	if t.cfg.nonceOverride != nil {
		info.Nonce = t.cfg.nonceOverride
	}
	if t.cfg.includeTSAName {
		info.TSA = tsp.DirectoryName(t.Signer.Cert)
	}
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TSTInfo: %w", err)
	}

	var certs []*x509.Certificate
	if req.CertReq && !t.cfg.omitCerts {
		certs = append(certs, t.Signer.Cert)
		if t.Intermediate != nil {
			certs = append(certs, t.Intermediate.Cert)
		}
	}

	token, err := cms.Sign(infoDER, &cms.SignerConfig{
		Certificate:        t.Signer.Cert,
		Signer:             t.Signer.Key,
		DigestAlg:          t.cfg.digestAlg,
		Certificates:       certs,
		ContentType:        cms.OIDTSTInfo,
		SigningTime:        time.Now(),
		SigningCertificate: t.cfg.signingCert,
		UseSubjectKeyID:    t.cfg.useSKI,
		RSAPSS:             t.cfg.pss,
		MutateAttrs:        t.cfg.mutateAttrs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SignedData: %w", err)
	}

	switch t.cfg.tamper {
	case TamperSignature:
		token, err = rewriteSignedData(token, func(sd *cms.SignedData) error {
			sig := sd.SignerInfos[0].Signature
			sig[len(sig)/2] ^= 0x01
			return nil
		})
	case TamperContent:
		token, err = rewriteSignedData(token, func(sd *cms.SignedData) error {
			info.SerialNumber = new(big.Int).Add(info.SerialNumber, big.NewInt(1))
			forged, err := asn1.Marshal(info)
			if err != nil {
				return err
			}
			encap, err := cms.NewEncapsulatedContentInfo(cms.OIDTSTInfo, forged)
			if err != nil {
				return err
			}
			sd.EncapContentInfo = encap
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.issued++
	t.mu.Unlock()
	return token, nil
}

func (t *TSA) genTime() asn1.RawValue {
	now := t.cfg.clock()
	if t.cfg.genTimeLayout == "" {
		return tsp.MarshalGenTime(now)
	}
	loc := t.cfg.genTimeLocation
	if loc == nil {
		loc = time.UTC
	}
	return tsp.GenTimeValue(now.In(loc).Format(t.cfg.genTimeLayout))
}

// rewriteSignedData decodes a token, applies fn and re-encodes it.
func rewriteSignedData(token []byte, fn func(*cms.SignedData) error) ([]byte, error) {
	sd, err := cms.ParseSignedData(token)
	if err != nil {
		return nil, err
	}
	if err := fn(sd); err != nil {
		return nil, err
	}
	sdDER, err := asn1.Marshal(*sd)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(cms.ContentInfo{
		ContentType: cms.OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	})
}
