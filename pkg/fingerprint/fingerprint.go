// Package fingerprint computes the content identity of an evidence artifact.
//
// The digest is SHA-256 over the exact bytes as received from the client,
// before any transformation for storage. Re-encoding or transcoding the
// payload prior to hashing would silently break the integrity guarantee.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// Size is the length in bytes of a raw digest.
const Size = sha256.Size

// Digest returns the lowercase hex SHA-256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s is a well-formed hex digest.
func Valid(s string) bool {
	if len(s) != Size*2 {
		return false
	}
	if s != strings.ToLower(s) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Matches compares a client-declared digest against the server-computed one.
// The comparison is case-insensitive; the server value is authoritative and
// is never substituted by the client's.
func Matches(declared, computed string) bool {
	return strings.EqualFold(declared, computed)
}

// CanonicalDigest hashes a JSON document after RFC 8785 (JCS)
// canonicalization, so that semantically identical metadata payloads hash
// identically regardless of key order or whitespace.
func CanonicalDigest(rawJSON []byte) (string, error) {
	canonical, err := jcs.Transform(rawJSON)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
