// Package fingerprint computes content fingerprints for dedup.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// bodyPrefixChars bounds how much of the body participates in the hash, so
// trailing boilerplate churn (counters, related-article blocks) does not
// defeat dedup.
const bodyPrefixChars = 500

// Hasher implements harvest.Fingerprinter using SHA-256.
type Hasher struct{}

// New returns a SHA-256 fingerprinter.
func New() *Hasher {
	return &Hasher{}
}

// Fingerprint hashes title, publish date and the first 500 characters of
// the body, NUL-separated, and returns a hex digest.
func (h *Hasher) Fingerprint(title, publishDate, body string) string {
	runes := []rune(body)
	if len(runes) > bodyPrefixChars {
		runes = runes[:bodyPrefixChars]
	}
	sum := sha256.New()
	sum.Write([]byte(title))
	sum.Write([]byte{0})
	sum.Write([]byte(publishDate))
	sum.Write([]byte{0})
	sum.Write([]byte(string(runes)))
	return hex.EncodeToString(sum.Sum(nil))
}
