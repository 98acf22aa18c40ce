package tsp

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/remiblancher/trustedts/pkg/cms"
)

var hashNames = map[crypto.Hash]string{
	crypto.SHA1:     "sha1",
	crypto.SHA224:   "sha224",
	crypto.SHA256:   "sha256",
	crypto.SHA384:   "sha384",
	crypto.SHA512:   "sha512",
	crypto.SHA3_256: "sha3-256",
	crypto.SHA3_384: "sha3-384",
	crypto.SHA3_512: "sha3-512",
}

// SupportedHashes lists the digest algorithms accepted in message imprints.
func SupportedHashes() []crypto.Hash {
	return []crypto.Hash{
		crypto.SHA1, crypto.SHA224, crypto.SHA256, crypto.SHA384, crypto.SHA512,
		crypto.SHA3_256, crypto.SHA3_384, crypto.SHA3_512,
	}
}

// HashName returns the lower-case name of h ("sha256", "sha3-384", ...).
func HashName(h crypto.Hash) string {
	if name, ok := hashNames[h]; ok {
		return name
	}
	return h.String()
}

// ParseHashAlgorithm parses an algorithm name such as "sha256", "SHA-256"
// or "sha3-512".
func ParseHashAlgorithm(name string) (crypto.Hash, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(n, "sha-") {
		n = "sha" + n[len("sha-"):]
	}
	n = strings.ReplaceAll(n, "_", "-")
	for h, hn := range hashNames {
		if hn == n {
			return h, nil
		}
	}
	return 0, errorf("digest", KindMalformedDigest, "unsupported hash algorithm %q", name)
}

// Digest is a content digest tagged with its algorithm. The zero value is
// not a valid digest; use NewDigest, ComputeDigest or ParseDigest.
type Digest struct {
	alg   crypto.Hash
	value []byte
}

// NewDigest checks that value has the length of alg and returns the digest.
// The value is copied.
func NewDigest(alg crypto.Hash, value []byte) (Digest, error) {
	if _, ok := hashNames[alg]; !ok {
		return Digest{}, errorf("digest", KindMalformedDigest, "unsupported hash algorithm %v", alg)
	}
	if len(value) != alg.Size() {
		return Digest{}, errorf("digest", KindMalformedDigest, "%s digest must be %d bytes, got %d", HashName(alg), alg.Size(), len(value))
	}
	return Digest{alg: alg, value: bytes.Clone(value)}, nil
}

// ComputeDigest hashes data with alg.
func ComputeDigest(alg crypto.Hash, data []byte) (Digest, error) {
	if _, ok := hashNames[alg]; !ok {
		return Digest{}, errorf("digest", KindMalformedDigest, "unsupported hash algorithm %v", alg)
	}
	sum, err := cms.Digest(alg, data)
	if err != nil {
		return Digest{}, newError("digest", KindMalformedDigest, err)
	}
	return Digest{alg: alg, value: sum}, nil
}

// ParseDigest parses the "algorithm:hex" form, e.g. "sha256:2c26b4...".
func ParseDigest(s string) (Digest, error) {
	d := digest.Digest(strings.ToLower(strings.TrimSpace(s)))
	if err := d.Validate(); err != nil && !errors.Is(err, digest.ErrDigestUnsupported) {
		return Digest{}, newError("digest", KindMalformedDigest, fmt.Errorf("%q: %w", s, err))
	}
	alg, err := ParseHashAlgorithm(d.Algorithm().String())
	if err != nil {
		return Digest{}, err
	}
	value, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return Digest{}, newError("digest", KindMalformedDigest, fmt.Errorf("%q: %w", s, err))
	}
	return NewDigest(alg, value)
}

// Algorithm returns the digest algorithm.
func (d Digest) Algorithm() crypto.Hash { return d.alg }

// Value returns a copy of the digest bytes.
func (d Digest) Value() []byte { return bytes.Clone(d.value) }

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool { return d.alg == 0 && len(d.value) == 0 }

// Equal reports whether d and other have the same algorithm and bytes.
func (d Digest) Equal(other Digest) bool {
	return d.alg == other.alg && bytes.Equal(d.value, other.value)
}

// String returns the "algorithm:hex" form.
func (d Digest) String() string {
	return digest.NewDigestFromEncoded(digest.Algorithm(HashName(d.alg)), hex.EncodeToString(d.value)).String()
}

func (d Digest) validate() error {
	if _, ok := hashNames[d.alg]; !ok {
		return errorf("digest", KindMalformedDigest, "unsupported hash algorithm %v", d.alg)
	}
	if len(d.value) != d.alg.Size() {
		return errorf("digest", KindMalformedDigest, "%s digest must be %d bytes, got %d", HashName(d.alg), d.alg.Size(), len(d.value))
	}
	return nil
}
