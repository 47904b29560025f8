// Package hashcache maps a SHA-256 digest of a document's normalized text to its summary.
// Entries are written once per digest and never overwritten.
package hashcache

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Store is the cache contract shared by every backend.
type Store = interfaces.SummaryCache

// Normalize converts CRLF and CR line endings to LF and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// Hash returns the hex SHA-256 digest of the normalized text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// HashParts digests several strings as one, separated so that ("ab","c") and
// ("a","bc") produce different keys.
func HashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(Normalize(p)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
