package cli

import (
	"bytes"
	"crypto"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/remiblancher/trustedts/internal/config"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

// =============================================================================
// Input Tests
// =============================================================================

func TestU_ReadInput(t *testing.T) {
	path := writeTemp(t, "in.bin", []byte("file data"))
	got, err := ReadInput(path, nil)
	if err != nil || string(got) != "file data" {
		t.Errorf("ReadInput(file) = %q, %v", got, err)
	}

	got, err = ReadInput("-", strings.NewReader("stdin data"))
	if err != nil || string(got) != "stdin data" {
		t.Errorf("ReadInput(-) = %q, %v", got, err)
	}

	if _, err := ReadInput(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("ReadInput() should fail for a missing file")
	}
}

func TestU_ReadDER_PEM(t *testing.T) {
	der := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	pemPath := writeTemp(t, "in.pem", pem.EncodeToMemory(&pem.Block{Type: "TIMESTAMP", Bytes: der}))
	derPath := writeTemp(t, "in.der", der)

	for _, p := range []string{pemPath, derPath} {
		got, err := ReadDER(p, nil)
		if err != nil || !bytes.Equal(got, der) {
			t.Errorf("ReadDER(%s) = %x, %v", filepath.Base(p), got, err)
		}
	}
}

func TestU_WriteOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	if err := WriteOutput(path, []byte("abc"), nil); err != nil {
		t.Fatalf("WriteOutput() failed: %v", err)
	}
	if got, _ := os.ReadFile(path); string(got) != "abc" {
		t.Errorf("file content = %q", got)
	}

	var buf bytes.Buffer
	if err := WriteOutput("-", []byte("xyz"), &buf); err != nil || buf.String() != "xyz" {
		t.Errorf("WriteOutput(-) = %q, %v", buf.String(), err)
	}
}

// =============================================================================
// Digest Tests
// =============================================================================

func TestU_LoadDigest(t *testing.T) {
	dataPath := writeTemp(t, "foo.txt", []byte("foo"))
	const sha256Foo = "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"

	tests := []struct {
		name    string
		data    string
		digest  string
		hash    crypto.Hash
		want    string
		wantErr bool
	}{
		{"[U] data sha256", dataPath, "", crypto.SHA256, "sha256:" + sha256Foo, false},
		{"[U] data sha1", dataPath, "", crypto.SHA1, "sha1:0beec7b5ea3f0fdbc95d0dd47f3c5bc275da8a33", false},
		{"[U] data sha3", dataPath, "", crypto.SHA3_256, "", false},
		{"[U] prefixed digest", "", "sha256:" + sha256Foo, crypto.SHA512, "sha256:" + sha256Foo, false},
		{"[U] bare hex digest", "", sha256Foo, crypto.SHA256, "sha256:" + sha256Foo, false},
		{"[U] bare hex wrong length", "", sha256Foo, crypto.SHA384, "", true},
		{"[U] bad hex", "", "zz", crypto.SHA256, "", true},
		{"[U] both", dataPath, "sha256:" + sha256Foo, crypto.SHA256, "", true},
		{"[U] neither", "", "", crypto.SHA256, "", true},
		{"[U] missing file", filepath.Join(t.TempDir(), "missing"), "", crypto.SHA256, "", true},
		{"[U] md5", dataPath, "", crypto.MD5, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := LoadDigest(tt.data, tt.digest, tt.hash, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadDigest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want != "" && d.String() != tt.want {
				t.Errorf("LoadDigest() = %s, want %s", d, tt.want)
			}
		})
	}
}

func TestU_DigestFile_Stdin(t *testing.T) {
	d, err := DigestFile("-", crypto.SHA256, strings.NewReader("foo"))
	if err != nil {
		t.Fatalf("DigestFile() failed: %v", err)
	}
	want, _ := tsp.ComputeDigest(crypto.SHA256, []byte("foo"))
	if !d.Equal(want) {
		t.Errorf("DigestFile() = %s, want %s", d, want)
	}
}

// =============================================================================
// Nonce and Time Tests
// =============================================================================

func TestU_ParseNonce(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12345", 12345, false},
		{"0x3039", 12345, false},
		{"0XFF", 255, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run("[U] "+tt.in, func(t *testing.T) {
			got, err := ParseNonce(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNonce(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("ParseNonce(%q) = %v, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestU_ParseTime(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	got, err := ParseTime("now", now)
	if err != nil || !got.Equal(fixed) {
		t.Errorf("ParseTime(now) = %v, %v", got, err)
	}
	got, err = ParseTime("2024-05-01T14:00:00.5+02:00", now)
	if err != nil || !got.Equal(fixed.Add(500*time.Millisecond)) {
		t.Errorf("ParseTime(offset) = %v, %v", got, err)
	}
	if _, err := ParseTime("20240501120000Z", now); err == nil {
		t.Error("ParseTime() should reject GeneralizedTime syntax")
	}
}

// =============================================================================
// Config Helper Tests
// =============================================================================

func TestU_RequestOptions(t *testing.T) {
	d, _ := tsp.ComputeDigest(crypto.SHA256, []byte("opts"))

	cfg := config.Default()
	cfg.TSA.Policy = "1.2.3.4.1"
	opts, err := RequestOptions(cfg)
	if err != nil {
		t.Fatalf("RequestOptions() failed: %v", err)
	}
	req, err := tsp.BuildRequest(d, opts...)
	if err != nil {
		t.Fatalf("BuildRequest() failed: %v", err)
	}
	if req.Nonce == nil {
		t.Error("nonce missing with tsa.nonce enabled")
	}
	if req.Policy.String() != "1.2.3.4.1" {
		t.Errorf("Policy = %v", req.Policy)
	}

	cfg.TSA.Nonce = false
	cfg.TSA.Policy = ""
	opts, _ = RequestOptions(cfg)
	req, _ = tsp.BuildRequest(d, opts...)
	if req.Nonce != nil || len(req.Policy) != 0 {
		t.Errorf("unexpected nonce %v or policy %v", req.Nonce, req.Policy)
	}
}

func TestU_LoadTrustAnchor_Unset(t *testing.T) {
	cfg := config.Default()
	anchor, err := LoadTrustAnchor(cfg)
	if err != nil || anchor != nil {
		t.Errorf("LoadTrustAnchor() = %v, %v", anchor, err)
	}

	cfg.Trust.IntermediatesFile = "chain.pem"
	if _, err := LoadTrustAnchor(cfg); err == nil {
		t.Error("LoadTrustAnchor() should fail with intermediates but no CA")
	}

	cfg.Trust.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := LoadTrustAnchor(cfg); err == nil {
		t.Error("LoadTrustAnchor() should fail for a missing CA file")
	}
}

func TestU_FormatStatus(t *testing.T) {
	if got := FormatStatus("verified"); got != ColorGreen+"verified"+ColorReset {
		t.Errorf("FormatStatus(verified) = %q", got)
	}
	if got := FormatStatus("rejection"); got != ColorRed+"rejection"+ColorReset {
		t.Errorf("FormatStatus(rejection) = %q", got)
	}
	if got := FormatStatus("other"); got != "other" {
		t.Errorf("FormatStatus(other) = %q", got)
	}
}
