package tsp

import (
	"encoding/asn1"
	"fmt"
	"strings"
	"time"
)

// GeneralizedTime layouts used when encoding.
const (
	genTimeLayout     = "20060102150405Z0700"
	genTimeFracLayout = "20060102150405.999999999Z0700"
)

// parseGenTime decodes the GenTime of a TSTInfo.
//
// The lenient form accepts YYYYMMDDHHMMSS, an optional fraction of any
// length introduced by '.' or ',', and a zone of 'Z', ±hh or ±hhmm.
// Strict form is the RFC 3161 profile: 'Z' only, '.' separator, and no
// trailing zeros in the fraction. Local times are always rejected. The
// result is in UTC.
func parseGenTime(rv asn1.RawValue, strict bool) (time.Time, error) {
	if rv.Class != asn1.ClassUniversal || rv.Tag != asn1.TagGeneralizedTime || rv.IsCompound {
		return time.Time{}, fmt.Errorf("genTime is not a GeneralizedTime (class %d, tag %d)", rv.Class, rv.Tag)
	}
	return ParseGeneralizedTime(string(rv.Bytes), strict)
}

// ParseGeneralizedTime parses the textual form of an ASN.1 GeneralizedTime.
// See parseGenTime for the accepted syntax.
func ParseGeneralizedTime(s string, strict bool) (time.Time, error) {
	if len(s) < 15 {
		return time.Time{}, fmt.Errorf("genTime %q: too short", s)
	}
	digits := s[:14]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return time.Time{}, fmt.Errorf("genTime %q: invalid date-time digits", s)
		}
	}
	year := atoi(digits[0:4])
	month := atoi(digits[4:6])
	day := atoi(digits[6:8])
	hour := atoi(digits[8:10])
	minute := atoi(digits[10:12])
	sec := atoi(digits[12:14])

	rest := s[14:]
	var nanos int
	if rest[0] == '.' || rest[0] == ',' {
		if strict && rest[0] == ',' {
			return time.Time{}, fmt.Errorf("genTime %q: fraction separator must be '.'", s)
		}
		end := 1
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		frac := rest[1:end]
		if frac == "" {
			return time.Time{}, fmt.Errorf("genTime %q: empty fraction", s)
		}
		if strict && strings.HasSuffix(frac, "0") {
			return time.Time{}, fmt.Errorf("genTime %q: fraction has trailing zeros", s)
		}
		nanos = fractionToNanos(frac)
		rest = rest[end:]
	}

	loc, err := parseZone(rest, strict)
	if err != nil {
		return time.Time{}, fmt.Errorf("genTime %q: %w", s, err)
	}

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("genTime %q: field out of range", s)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, nanos, loc)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("genTime %q: invalid day of month", s)
	}
	return t.UTC(), nil
}

func parseZone(z string, strict bool) (*time.Location, error) {
	switch {
	case z == "Z":
		return time.UTC, nil
	case z == "":
		return nil, fmt.Errorf("local time without zone designator")
	case strict:
		return nil, fmt.Errorf("zone must be 'Z'")
	case z[0] != '+' && z[0] != '-':
		return nil, fmt.Errorf("invalid zone %q", z)
	}

	off := z[1:]
	if len(off) != 2 && len(off) != 4 {
		return nil, fmt.Errorf("invalid zone offset %q", z)
	}
	for i := 0; i < len(off); i++ {
		if off[i] < '0' || off[i] > '9' {
			return nil, fmt.Errorf("invalid zone offset %q", z)
		}
	}
	hh := atoi(off[0:2])
	mm := 0
	if len(off) == 4 {
		mm = atoi(off[2:4])
	}
	if hh > 23 || mm > 59 {
		return nil, fmt.Errorf("zone offset %q out of range", z)
	}
	secs := hh*3600 + mm*60
	if z[0] == '-' {
		secs = -secs
	}
	return time.FixedZone("", secs), nil
}

// fractionToNanos converts fractional-second digits to nanoseconds,
// truncating below one nanosecond.
func fractionToNanos(frac string) int {
	n := 0
	for i := 0; i < 9; i++ {
		n *= 10
		if i < len(frac) {
			n += int(frac[i] - '0')
		}
	}
	return n
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// MarshalGenTime encodes t as a DER GeneralizedTime in UTC, with the
// fraction trimmed of trailing zeros.
func MarshalGenTime(t time.Time) asn1.RawValue {
	layout := genTimeLayout
	if t.Nanosecond() != 0 {
		layout = genTimeFracLayout
	}
	return GenTimeValue(t.UTC().Format(layout))
}

// GenTimeValue wraps the textual form s in a GeneralizedTime value without
// checking it.
func GenTimeValue(s string) asn1.RawValue {
	return asn1.RawValue{
		Class: asn1.ClassUniversal,
		Tag:   asn1.TagGeneralizedTime,
		Bytes: []byte(s),
	}
}
