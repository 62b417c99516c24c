package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey returns prefix + ":" + the first 16 hex chars of sha256 over parts.
// Parts are joined with a NUL separator so ("a","bc") and ("ab","c") differ.
func HashKey(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
