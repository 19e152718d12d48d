package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHashLength is the fixed length of a content hash in hex characters.
const ContentHashLength = sha256.Size * 2

// ContentHash is the dedup key: a digest over normalized title and content.
func ContentHash(title, content string) string {
	sum := sha256.Sum256([]byte(normalizeForHash(title) + "|" + normalizeForHash(content)))
	return hex.EncodeToString(sum[:])
}

func normalizeForHash(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
