package state

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashFileVersion returns a short id for one version of a resource.
// The key is included so identical content in different resources yields
// different ids.
func HashFileVersion(key, content string) string {
	sum := sha256.Sum256([]byte(key + "\x00" + content))
	return hex.EncodeToString(sum[:])[:8]
}
