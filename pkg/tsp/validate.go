package tsp

import (
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"time"
)

// Result is returned when every validation check passes.
type Result struct {
	Token      *Token
	SignerCert *x509.Certificate
	Chain      []*x509.Certificate // signer first, root last
	GenTime    time.Time
}

// Validator validates timestamp responses. A Validator is immutable and
// safe for concurrent use.
type Validator struct {
	resolution  time.Duration
	parseOpts   []ParseOption
	atNow       bool
	now         func() time.Time
	revocation  RevocationChecker
	nonce       *big.Int
	policy      asn1.ObjectIdentifier
	checkNonce  bool
	checkPolicy bool
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithTimeResolution sets the precision at which the expected time and
// GenTime are compared. Both are truncated to d first. The default is one
// second; d <= 0 compares exactly.
func WithTimeResolution(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.resolution = d
	}
}

// WithParseOptions passes options to the response parser.
func WithParseOptions(opts ...ParseOption) ValidatorOption {
	return func(v *Validator) {
		v.parseOpts = append(v.parseOpts, opts...)
	}
}

// VerifyAtCurrentTime verifies the certificate chain at the current time
// instead of at GenTime.
func VerifyAtCurrentTime() ValidatorOption {
	return func(v *Validator) {
		v.atNow = true
	}
}

// WithClock sets the clock used by VerifyAtCurrentTime.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// WithRevocationChecker enables revocation checking of the TSA chain.
func WithRevocationChecker(rc RevocationChecker) ValidatorOption {
	return func(v *Validator) {
		v.revocation = rc
	}
}

// WithExpectedNonce requires the token to echo nonce.
func WithExpectedNonce(nonce *big.Int) ValidatorOption {
	return func(v *Validator) {
		v.checkNonce = nonce != nil
		v.nonce = nil
		if nonce != nil {
			v.nonce = new(big.Int).Set(nonce)
		}
	}
}

// WithExpectedPolicy requires the token to be issued under policy.
func WithExpectedPolicy(policy asn1.ObjectIdentifier) ValidatorOption {
	return func(v *Validator) {
		v.checkPolicy = len(policy) > 0
		v.policy = append(asn1.ObjectIdentifier(nil), policy...)
	}
}

// NewValidator creates a Validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		resolution: time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValidator = NewValidator()

// Validate checks raw against the expected digest, the expected attested
// time and the trust anchor using the default Validator.
func Validate(expected Digest, raw []byte, expectedTime time.Time, anchor *TrustAnchor) (*Result, error) {
	return defaultValidator.Validate(expected, raw, expectedTime, anchor)
}

// Validate checks, in order: the response syntax, the message imprint,
// the nonce and policy when expected, the attested time, and finally the
// signature and certificate chain. It stops at the first failure.
func (v *Validator) Validate(expected Digest, raw []byte, expectedTime time.Time, anchor *TrustAnchor) (*Result, error) {
	return v.validate(expected, raw, expectedTime, anchor, v.checkNonce, v.nonce, v.checkPolicy, v.policy)
}

// ValidateRequest validates raw against the digest, nonce and policy of the
// request it answers.
func (v *Validator) ValidateRequest(req *Request, raw []byte, expectedTime time.Time, anchor *TrustAnchor) (*Result, error) {
	checkNonce, nonce := v.checkNonce, v.nonce
	if req.Nonce != nil {
		checkNonce, nonce = true, req.Nonce
	}
	checkPolicy, policy := v.checkPolicy, v.policy
	if len(req.Policy) > 0 {
		checkPolicy, policy = true, req.Policy
	}
	return v.validate(req.Digest, raw, expectedTime, anchor, checkNonce, nonce, checkPolicy, policy)
}

func (v *Validator) validate(expected Digest, raw []byte, expectedTime time.Time, anchor *TrustAnchor,
	checkNonce bool, nonce *big.Int, checkPolicy bool, policy asn1.ObjectIdentifier) (*Result, error) {
	if err := expected.validate(); err != nil {
		return nil, err
	}

	resp, err := ParseResponse(raw, v.parseOpts...)
	if err != nil {
		return nil, err
	}
	tok := resp.Token

	imprint, err := tok.Digest()
	if err != nil || !imprint.Equal(expected) {
		return nil, errorf("validate", KindMessageImprintMismatch, "token attests %s, expected %s",
			imprintString(tok.MessageImprint), expected)
	}

	if checkNonce {
		if tok.Nonce == nil {
			return nil, errorf("validate", KindNonceMismatch, "response carries no nonce")
		}
		if tok.Nonce.Cmp(nonce) != 0 {
			return nil, errorf("validate", KindNonceMismatch, "got %s, expected %s", tok.Nonce.Text(16), nonce.Text(16))
		}
	}
	if checkPolicy && !tok.Policy.Equal(policy) {
		return nil, errorf("validate", KindPolicyMismatch, "got %v, expected %v", tok.Policy, policy)
	}

	if !v.sameInstant(expectedTime, tok.GenTime) {
		return nil, errorf("validate", KindResponseTimeChanged, "genTime %s, expected %s",
			tok.GenTime.Format(time.RFC3339Nano), expectedTime.UTC().Format(time.RFC3339Nano))
	}

	at := tok.GenTime
	if v.atNow {
		at = v.now()
	}
	signer, chain, err := verifyToken(tok, verifyOptions{
		anchor:      anchor,
		currentTime: at,
		revocation:  v.revocation,
	})
	if err != nil {
		return nil, newError("validate", KindSignatureVerification, err)
	}

	return &Result{
		Token:      tok,
		SignerCert: signer,
		Chain:      chain,
		GenTime:    tok.GenTime,
	}, nil
}

func (v *Validator) sameInstant(a, b time.Time) bool {
	if v.resolution <= 0 {
		return a.Equal(b)
	}
	return a.Truncate(v.resolution).Equal(b.Truncate(v.resolution))
}

func imprintString(m MessageImprint) string {
	if d, err := m.Digest(); err == nil {
		return d.String()
	}
	return m.HashAlgorithm.Algorithm.String()
}
