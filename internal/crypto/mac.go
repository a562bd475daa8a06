package crypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/chmike/cmac-go"
	"github.com/pkg/errors"
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HMACSHA256 computes HMAC-SHA256 over the concatenation of parts.
func HMACSHA256(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// CMAC computes AES-CMAC over the concatenation of parts.
func CMAC(key []byte, parts ...[]byte) ([]byte, error) {
	h, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil), nil
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
