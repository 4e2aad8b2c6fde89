package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// algorithm change without colliding with stored values.
const (
	DomainArtifact = "calt/artifact/v1"
	DomainOutput   = "calt/output/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SHA256 returns the plain hex digest of data. Preview payloads use it so a
// client can recompute the fingerprint of a file without knowing the domain.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArtifactHash is the content address of stored artifact bytes.
func ArtifactHash(data []byte) string {
	return HashWithDomain(DomainArtifact, data)
}

// OutputHash hashes the canonical form of a recorded run output.
func OutputHash(output map[string]any) (string, error) {
	data, err := Marshal(output)
	if err != nil {
		return "", fmt.Errorf("output hash: %w", err)
	}
	return HashWithDomain(DomainOutput, data), nil
}
