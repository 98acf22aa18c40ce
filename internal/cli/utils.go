// Package cli holds the helpers shared by the trustedts commands: input
// loading, validator assembly and output formatting.
package cli

import (
	"crypto"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/remiblancher/trustedts/pkg/cms"
	"github.com/remiblancher/trustedts/pkg/tsp"
)

// ReadInput reads a file, or stdin when path is "-".
func ReadInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteOutput writes data to path, or to stdout when path is "-".
func WriteOutput(path string, data []byte, stdout io.Writer) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadDER reads a DER file, accepting a single PEM block as well.
func ReadDER(path string, stdin io.Reader) ([]byte, error) {
	data, err := ReadInput(path, stdin)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	return data, nil
}

// DigestFile hashes the file at path (stdin for "-") with h.
func DigestFile(path string, h crypto.Hash, stdin io.Reader) (tsp.Digest, error) {
	hasher, ok := cms.NewHash(h)
	if !ok {
		return tsp.Digest{}, fmt.Errorf("unsupported hash algorithm %v", h)
	}
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return tsp.Digest{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	if _, err := io.Copy(hasher, r); err != nil {
		return tsp.Digest{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return tsp.NewDigest(h, hasher.Sum(nil))
}

// LoadDigest returns the digest named by exactly one of dataPath and
// digestStr. digestStr is either "alg:hex" or bare hex of algorithm h.
func LoadDigest(dataPath, digestStr string, h crypto.Hash, stdin io.Reader) (tsp.Digest, error) {
	switch {
	case dataPath != "" && digestStr != "":
		return tsp.Digest{}, fmt.Errorf("--data and --digest are mutually exclusive")
	case dataPath != "":
		return DigestFile(dataPath, h, stdin)
	case digestStr != "":
		if strings.Contains(digestStr, ":") {
			return tsp.ParseDigest(digestStr)
		}
		value, err := hex.DecodeString(strings.TrimSpace(digestStr))
		if err != nil {
			return tsp.Digest{}, fmt.Errorf("invalid --digest: %w", err)
		}
		return tsp.NewDigest(h, value)
	default:
		return tsp.Digest{}, fmt.Errorf("one of --data or --digest is required")
	}
}

// ParseNonce parses a decimal or 0x-prefixed hexadecimal nonce.
func ParseNonce(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid nonce %q", s)
	}
	return n, nil
}

// ParseTime parses an expected time in RFC 3339 form. "now" is the
// current time.
func ParseTime(s string, now func() time.Time) (time.Time, error) {
	if s == "now" {
		return now(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC 3339, e.g. 2024-05-01T12:00:00Z", s)
	}
	return t, nil
}

// FirstOrEmpty returns the first element of a slice or an empty string.
func FirstOrEmpty(s []string) string {
	if len(s) > 0 {
		return s[0]
	}
	return ""
}
