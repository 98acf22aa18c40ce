package tsp

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const (
	sha1Foo   = "0beec7b5ea3f0fdbc95d0dd47f3c5bc275da8a33"
	sha256Foo = "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"
)

// =============================================================================
// Digest Construction Tests
// =============================================================================

func TestU_ComputeDigest_KnownValues(t *testing.T) {
	tests := []struct {
		alg  crypto.Hash
		want string
	}{
		{crypto.SHA1, "sha1:" + sha1Foo},
		{crypto.SHA256, "sha256:" + sha256Foo},
	}

	for _, tt := range tests {
		t.Run(HashName(tt.alg), func(t *testing.T) {
			d, err := ComputeDigest(tt.alg, []byte("foo"))
			if err != nil {
				t.Fatalf("ComputeDigest() failed: %v", err)
			}
			if got := d.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if d.Algorithm() != tt.alg {
				t.Errorf("Algorithm() = %v, want %v", d.Algorithm(), tt.alg)
			}
		})
	}
}

func TestU_ComputeDigest_AllAlgorithms(t *testing.T) {
	for _, h := range SupportedHashes() {
		t.Run(HashName(h), func(t *testing.T) {
			d, err := ComputeDigest(h, []byte("data"))
			if err != nil {
				t.Fatalf("ComputeDigest() failed: %v", err)
			}
			if len(d.Value()) != h.Size() {
				t.Errorf("digest length = %d, want %d", len(d.Value()), h.Size())
			}

			parsed, err := ParseDigest(d.String())
			if err != nil {
				t.Fatalf("ParseDigest(%q) failed: %v", d.String(), err)
			}
			if !parsed.Equal(d) {
				t.Errorf("ParseDigest(String()) = %v, want %v", parsed, d)
			}
		})
	}
}

func TestU_NewDigest_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		alg   crypto.Hash
		value []byte
	}{
		{"[U] Short SHA-256", crypto.SHA256, make([]byte, 31)},
		{"[U] Long SHA-1", crypto.SHA1, make([]byte, 21)},
		{"[U] Empty", crypto.SHA384, nil},
		{"[U] Unsupported MD5", crypto.MD5, make([]byte, 16)},
		{"[U] Zero algorithm", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDigest(tt.alg, tt.value)
			if !errors.Is(err, ErrMalformedDigest) {
				t.Fatalf("NewDigest() error = %v, want ErrMalformedDigest", err)
			}
			if KindOf(err) != KindMalformedDigest {
				t.Errorf("KindOf() = %v, want %v", KindOf(err), KindMalformedDigest)
			}
		})
	}
}

func TestU_NewDigest_CopiesValue(t *testing.T) {
	value, _ := hex.DecodeString(sha256Foo)
	d, err := NewDigest(crypto.SHA256, value)
	if err != nil {
		t.Fatalf("NewDigest() failed: %v", err)
	}
	value[0] ^= 0xff
	if d.Value()[0] == value[0] {
		t.Error("digest shares storage with the caller's slice")
	}

	out := d.Value()
	out[1] ^= 0xff
	if bytes.Equal(out, d.Value()) {
		t.Error("Value() exposes internal storage")
	}
}

func TestU_Digest_Equal(t *testing.T) {
	a, _ := ComputeDigest(crypto.SHA256, []byte("a"))
	b, _ := ComputeDigest(crypto.SHA256, []byte("b"))
	sameBytes, _ := NewDigest(crypto.SHA3_256, a.Value())

	if !a.Equal(a) {
		t.Error("digest not equal to itself")
	}
	if a.Equal(b) {
		t.Error("different contents compare equal")
	}
	if a.Equal(sameBytes) {
		t.Error("same bytes under another algorithm compare equal")
	}
	if !(Digest{}).IsZero() || a.IsZero() {
		t.Error("IsZero() mismatch")
	}
}

// =============================================================================
// Digest Parsing Tests
// =============================================================================

func TestU_ParseDigest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantAlg crypto.Hash
		wantErr bool
	}{
		{"[U] SHA-256", "sha256:" + sha256Foo, crypto.SHA256, false},
		{"[U] Upper case", "SHA256:" + strings.ToUpper(sha256Foo), crypto.SHA256, false},
		{"[U] Surrounding space", "  sha1:" + sha1Foo + "\n", crypto.SHA1, false},
		{"[U] SHA-1", "sha1:" + sha1Foo, crypto.SHA1, false},
		{"[U] Short SHA-256", "sha256:abcd", 0, true},
		{"[U] Wrong length SHA-1", "sha1:" + sha256Foo, 0, true},
		{"[U] No separator", sha256Foo, 0, true},
		{"[U] Empty value", "sha256:", 0, true},
		{"[U] Unsupported MD5", "md5:d3b07384d113edec49eaa6238ad5ff00", 0, true},
		{"[U] Bad hex", "sha1:" + strings.Repeat("zz", 20), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDigest(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedDigest) {
					t.Fatalf("ParseDigest(%q) error = %v, want ErrMalformedDigest", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDigest(%q) failed: %v", tt.input, err)
			}
			if d.Algorithm() != tt.wantAlg {
				t.Errorf("Algorithm() = %v, want %v", d.Algorithm(), tt.wantAlg)
			}
		})
	}
}

func TestU_ParseHashAlgorithm(t *testing.T) {
	tests := []struct {
		input string
		want  crypto.Hash
	}{
		{"sha256", crypto.SHA256},
		{"SHA-256", crypto.SHA256},
		{"sha3-512", crypto.SHA3_512},
		{"SHA3_384", crypto.SHA3_384},
		{"sha-1", crypto.SHA1},
		{" sha224 ", crypto.SHA224},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseHashAlgorithm(tt.input)
			if err != nil {
				t.Fatalf("ParseHashAlgorithm(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseHashAlgorithm(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseHashAlgorithm("md5"); !errors.Is(err, ErrMalformedDigest) {
		t.Errorf("ParseHashAlgorithm(md5) error = %v, want ErrMalformedDigest", err)
	}
}
