package platform

import (
	"crypto/rand"
	"os"

	"github.com/google/uuid"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const tokenSuffixLength = 10

// NewID returns a random UUID used for sync run ids.
func NewID() string {
	return uuid.New().String()
}

// NewHolderToken identifies one lock holder. It is the hostname followed by
// a random suffix, so concurrent holders on one host stay distinct.
func NewHolderToken() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	b := make([]byte, tokenSuffixLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = tokenAlphabet[b[i]%byte(len(tokenAlphabet))]
	}
	return host + "/" + string(b)
}
