package worker

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
)

// HashFactory builds the fingerprint hash; swappable for FIPS deployments
var HashFactory func() hash.Hash = sha1.New

// Fingerprint derives a stable identifier for a connection option map.
// Serialization is deterministic (JSON object keys sort), so equal option
// maps always share a fingerprint.
func Fingerprint(opts map[string]any) (string, error) {
	flattened, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint options: %w", err)
	}

	digest := HashFactory()
	digest.Write(flattened)
	return hex.EncodeToString(digest.Sum(nil)), nil
}
