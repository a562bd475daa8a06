package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a 20 hex char digest of public key material, short enough
// for logs and device listings. Multiple parts are hashed in order.
func Fingerprint(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil)[:10])
}
