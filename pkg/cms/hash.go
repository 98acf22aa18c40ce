package cms

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"hash"

	"golang.org/x/crypto/sha3"
)

type digestAlgorithm struct {
	hash crypto.Hash
	oid  asn1.ObjectIdentifier
	new  func() hash.Hash
}

var digestAlgorithms = []digestAlgorithm{
	{crypto.SHA1, OIDSHA1, sha1.New},
	{crypto.SHA224, OIDSHA224, sha256.New224},
	{crypto.SHA256, OIDSHA256, sha256.New},
	{crypto.SHA384, OIDSHA384, sha512.New384},
	{crypto.SHA512, OIDSHA512, sha512.New},
	{crypto.SHA3_256, OIDSHA3_256, sha3.New256},
	{crypto.SHA3_384, OIDSHA3_384, sha3.New384},
	{crypto.SHA3_512, OIDSHA3_512, sha3.New512},
}

// HashFromOID maps a digest algorithm OID to its crypto.Hash.
func HashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for _, d := range digestAlgorithms {
		if d.oid.Equal(oid) {
			return d.hash, true
		}
	}
	return 0, false
}

// OIDFromHash maps a crypto.Hash to its digest algorithm OID.
func OIDFromHash(h crypto.Hash) (asn1.ObjectIdentifier, bool) {
	for _, d := range digestAlgorithms {
		if d.hash == h {
			return d.oid, true
		}
	}
	return nil, false
}

// NewHash returns a fresh hash.Hash for h. Unlike h.New it does not depend
// on the implementation being linked in by the caller.
func NewHash(h crypto.Hash) (hash.Hash, bool) {
	for _, d := range digestAlgorithms {
		if d.hash == h {
			return d.new(), true
		}
	}
	return nil, false
}

// Digest hashes data with h.
func Digest(h crypto.Hash, data []byte) ([]byte, error) {
	hh, ok := NewHash(h)
	if !ok {
		return nil, NewCMSError("digest", ErrUnsupportedAlgorithm)
	}
	hh.Write(data)
	return hh.Sum(nil), nil
}

// hashBytes hashes data with the algorithm identified by oid. The oid must
// be one of the package's known digest OIDs.
func hashBytes(oid asn1.ObjectIdentifier, data []byte) []byte {
	h, _ := HashFromOID(oid)
	sum, _ := Digest(h, data)
	return sum
}
