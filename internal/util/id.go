package util

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns a random hex id without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewPrefixedID returns ids such as "inst_3f2a...".
func NewPrefixedID(prefix string) string {
	return prefix + "_" + NewID()
}

// NewToken returns n random characters from [a-z0-9].
func NewToken(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
