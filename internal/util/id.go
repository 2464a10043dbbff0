package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Token returns n random bytes, hex encoded.
func Token(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// UnguessableName returns a random file name with the given extension.
func UnguessableName(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return Token(6)
	}
	return Token(6) + "." + strings.ToLower(ext)
}
