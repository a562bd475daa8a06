package crypto

import (
	"encoding/base64"
	"math/big"
)

// B64 returns standard base64 encoding without newlines.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// intBytes left-pads n to size bytes, big-endian.
func intBytes(n *big.Int, size int) []byte {
	out := make([]byte, size)
	n.FillBytes(out)
	return out
}
