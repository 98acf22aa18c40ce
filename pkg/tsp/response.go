package tsp

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"strings"
	"time"
)

// PKIStatus values (RFC 3161 Section 2.4.2).
const (
	StatusGranted                = 0
	StatusGrantedWithMods        = 1
	StatusRejection              = 2
	StatusWaiting                = 3
	StatusRevocationWarning      = 4
	StatusRevocationNotification = 5
)

// PKIFailureInfo bits (RFC 3161 Section 2.4.2).
const (
	FailBadAlg              = 0  // Unrecognized or unsupported algorithm
	FailBadRequest          = 2  // Transaction not permitted or supported
	FailBadDataFormat       = 5  // The data submitted has the wrong format
	FailTimeNotAvailable    = 14 // TSA's time source is not available
	FailUnacceptedPolicy    = 15 // The requested policy is not supported
	FailUnacceptedExtension = 16 // The requested extension is not supported
	FailAddInfoNotAvailable = 17 // The additional information requested could not be understood
	FailSystemFailure       = 25 // System failure
)

var statusNames = map[int]string{
	StatusGranted:                "granted",
	StatusGrantedWithMods:        "grantedWithMods",
	StatusRejection:              "rejection",
	StatusWaiting:                "waiting",
	StatusRevocationWarning:      "revocationWarning",
	StatusRevocationNotification: "revocationNotification",
}

var failureNames = map[int]string{
	FailBadAlg:              "badAlg",
	FailBadRequest:          "badRequest",
	FailBadDataFormat:       "badDataFormat",
	FailTimeNotAvailable:    "timeNotAvailable",
	FailUnacceptedPolicy:    "unacceptedPolicy",
	FailUnacceptedExtension: "unacceptedExtension",
	FailAddInfoNotAvailable: "addInfoNotAvailable",
	FailSystemFailure:       "systemFailure",
}

// StatusName returns the RFC 3161 name of a PKIStatus value.
func StatusName(status int) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", status)
}

// TimeStampResp represents the timestamp response (RFC 3161 Section 2.4.2).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo contains the status of the request (RFC 3161 Section 2.4.2).
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// FailureNames returns the names of the failure bits set in s.
func (s PKIStatusInfo) FailureNames() []string {
	var names []string
	for i := 0; i < s.FailInfo.BitLength; i++ {
		if s.FailInfo.At(i) == 0 {
			continue
		}
		if name, ok := failureNames[i]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("bit%d", i))
		}
	}
	return names
}

// Granted reports whether the status allows a token.
func (s PKIStatusInfo) Granted() bool {
	return s.Status == StatusGranted || s.Status == StatusGrantedWithMods
}

// FailureInfoBitString creates a PKIFailureInfo with the given bits set.
func FailureInfoBitString(bits ...int) asn1.BitString {
	maxBit := -1
	for _, b := range bits {
		if b > maxBit {
			maxBit = b
		}
	}
	if maxBit < 0 {
		return asn1.BitString{}
	}
	out := make([]byte, maxBit/8+1)
	for _, b := range bits {
		out[b/8] |= 1 << uint(7-b%8)
	}
	return asn1.BitString{Bytes: out, BitLength: maxBit + 1}
}

// Response is a parsed TimeStampResp. Token is set for granted responses.
type Response struct {
	Raw    []byte
	Status PKIStatusInfo
	Token  *Token
}

type parseOptions struct {
	strictGenTime bool
}

// ParseOption configures ParseResponse.
type ParseOption func(*parseOptions)

// WithStrictGenTime requires GenTime to follow the RFC 3161 DER profile:
// UTC 'Z' designator and no trailing zeros in the fraction.
func WithStrictGenTime() ParseOption {
	return func(o *parseOptions) {
		o.strictGenTime = true
	}
}

// ParseResponse decodes a DER TimeStampResp. A status other than granted
// or grantedWithMods fails with KindTSARejected; the error chain then
// holds a *RejectedError.
func ParseResponse(raw []byte, opts ...ParseOption) (*Response, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	var resp TimeStampResp
	rest, err := asn1.Unmarshal(raw, &resp)
	if err != nil {
		return nil, errorf("parse", KindResponseParse, "failed to parse TimeStampResp: %v", err)
	}
	if len(rest) > 0 {
		return nil, errorf("parse", KindResponseParse, "trailing data after TimeStampResp")
	}

	if !resp.Status.Granted() {
		return nil, newError("parse", KindTSARejected, &RejectedError{
			Status:      resp.Status.Status,
			FailureInfo: resp.Status.FailureNames(),
			Text:        resp.Status.StatusString,
		})
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, errorf("parse", KindResponseParse, "granted response carries no timestamp token")
	}

	token, err := parseToken(resp.TimeStampToken.FullBytes, o.strictGenTime)
	if err != nil {
		return nil, err
	}

	return &Response{
		Raw:    bytes.Clone(raw),
		Status: resp.Status,
		Token:  token,
	}, nil
}

// TimestampFromResponse returns the attested GenTime of a response without
// checking its signature or trust chain.
func TimestampFromResponse(raw []byte) (time.Time, error) {
	resp, err := ParseResponse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return resp.Token.GenTime, nil
}

// StatusString returns a human-readable status string.
func (r *Response) StatusString() string {
	switch r.Status.Status {
	case StatusGranted:
		return "granted"
	case StatusGrantedWithMods:
		return "granted with modifications"
	case StatusRejection:
		return "rejection"
	case StatusWaiting:
		return "waiting"
	case StatusRevocationWarning:
		return "revocation warning"
	case StatusRevocationNotification:
		return "revocation notification"
	default:
		return fmt.Sprintf("unknown status %d", r.Status.Status)
	}
}

// FailureString returns the failure bits and free text of the status, or
// an empty string when there are none.
func (r *Response) FailureString() string {
	parts := r.Status.FailureNames()
	parts = append(parts, r.Status.StatusString...)
	return strings.Join(parts, "; ")
}
