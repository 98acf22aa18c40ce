// Package tsp implements the client side of the RFC 3161 Time-Stamp
// Protocol: building requests, interpreting responses and validating
// timestamp tokens against a digest, an expected time and a trust anchor.
package tsp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedDigest
	KindMalformedRequest
	KindResponseParse
	KindTSARejected
	KindMessageImprintMismatch
	KindResponseTimeChanged
	KindNonceMismatch
	KindPolicyMismatch
	KindSignatureVerification
)

// Sentinel errors, one per Kind.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrMalformedDigest indicates a digest whose length does not fit its
	// algorithm, or an unsupported algorithm.
	ErrMalformedDigest = errors.New("malformed digest")

	// ErrMalformedRequest indicates a TimeStampReq that cannot be decoded.
	ErrMalformedRequest = errors.New("malformed timestamp request")

	// ErrResponseParse indicates the response bytes are not a well-formed
	// TimeStampResp carrying a timestamp token.
	ErrResponseParse = errors.New("malformed timestamp response")

	// ErrTSARejected indicates the TSA answered with a non-granted status.
	ErrTSARejected = errors.New("timestamp request rejected by TSA")

	// ErrMessageImprintMismatch indicates the token attests a different digest.
	ErrMessageImprintMismatch = errors.New("message imprint mismatch")

	// ErrResponseTimeChanged indicates the attested time differs from the
	// time captured when the response was received.
	ErrResponseTimeChanged = errors.New("the response time of the request was changed")

	// ErrNonceMismatch indicates the echoed nonce is missing or different.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrPolicyMismatch indicates the token was issued under another policy.
	ErrPolicyMismatch = errors.New("policy mismatch")

	// ErrSignatureVerificationFailed indicates the token signature, the
	// signer certificate or its chain could not be verified.
	ErrSignatureVerificationFailed = errors.New("Verification: FAILED")
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindMalformedDigest:        "MalformedDigest",
	KindMalformedRequest:       "MalformedRequest",
	KindResponseParse:          "ResponseParseError",
	KindTSARejected:            "TsaRejected",
	KindMessageImprintMismatch: "MessageImprintMismatch",
	KindResponseTimeChanged:    "ResponseTimeChanged",
	KindNonceMismatch:          "NonceMismatch",
	KindPolicyMismatch:         "PolicyMismatch",
	KindSignatureVerification:  "SignatureVerificationFailed",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindMalformedDigest:
		return ErrMalformedDigest
	case KindMalformedRequest:
		return ErrMalformedRequest
	case KindResponseParse:
		return ErrResponseParse
	case KindTSARejected:
		return ErrTSARejected
	case KindMessageImprintMismatch:
		return ErrMessageImprintMismatch
	case KindResponseTimeChanged:
		return ErrResponseTimeChanged
	case KindNonceMismatch:
		return ErrNonceMismatch
	case KindPolicyMismatch:
		return ErrPolicyMismatch
	case KindSignatureVerification:
		return ErrSignatureVerificationFailed
	}
	return nil
}

// Error is the error returned by every operation of this package.
// It supports errors.Is() against the Kind sentinels and errors.As().
type Error struct {
	Op   string // Operation: "digest", "request", "parse", "validate"
	Kind Kind
	Err  error // Underlying error, always wrapping the Kind sentinel
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("tsp %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error whose chain holds both the Kind sentinel and cause.
func newError(op string, kind Kind, cause error) *Error {
	err := kind.sentinel()
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func errorf(op string, kind Kind, format string, args ...any) *Error {
	return newError(op, kind, fmt.Errorf(format, args...))
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RejectedError describes a non-granted TimeStampResp status.
type RejectedError struct {
	Status      int
	FailureInfo []string // names of the PKIFailureInfo bits set
	Text        []string // PKIFreeText from the TSA
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	var b strings.Builder
	b.WriteString("status ")
	b.WriteString(StatusName(e.Status))
	if len(e.FailureInfo) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.FailureInfo, ", "))
		b.WriteString(")")
	}
	if len(e.Text) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Text, "; "))
	}
	return b.String()
}
