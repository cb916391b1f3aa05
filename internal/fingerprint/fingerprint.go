// Package fingerprint derives anonymous device identifiers from request metadata.
package fingerprint

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// FromRequest hashes the user agent and client address into a stable hex id.
func FromRequest(userAgent, clientIP string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(userAgent) + "|" + strings.TrimSpace(clientIP)))
	return hex.EncodeToString(sum[:16])
}

// Sanitize lowercases s and keeps only ASCII letters and digits.
func Sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
