package crypto

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

// Point is an affine P-256 point.
type Point struct {
	X *big.Int
	Y *big.Int
}

// Bytes returns x||y.
func (p Point) Bytes() []byte { return PointBytes(p.X, p.Y) }

// ElGamalEncrypt encrypts the point msg to pub and returns (k·G, msg + k·pub).
func ElGamalEncrypt(msg, pub Point) (Point, Point, error) {
	n := P256.Params().N
	k, err := rand.Int(rand.Reader, new(big.Int).Sub(n, big.NewInt(1)))
	if err != nil {
		return Point{}, Point{}, errors.Wrap(err, "elgamal: random scalar")
	}
	k.Add(k, big.NewInt(1))
	kb := intBytes(k, EccScalarSize)

	x1, y1 := P256.ScalarBaseMult(kb)
	sx, sy := P256.ScalarMult(pub.X, pub.Y, kb)
	x2, y2 := P256.Add(msg.X, msg.Y, sx, sy)
	return Point{X: x1, Y: y1}, Point{X: x2, Y: y2}, nil
}

// ElGamalDecrypt recovers msg = c2 - d·c1.
func ElGamalDecrypt(c1, c2 Point, d *big.Int) Point {
	sx, sy := P256.ScalarMult(c1.X, c1.Y, intBytes(d, EccScalarSize))
	negY := new(big.Int).Sub(P256.Params().P, sy)
	negY.Mod(negY, P256.Params().P)
	x, y := P256.Add(c2.X, c2.Y, sx, negY)
	return Point{X: x, Y: y}
}

// EncryptECC256 ElGamal-encrypts msg to pub and serialises both ciphertext
// points as 128 raw bytes.
func EncryptECC256(msg, pub Point) ([]byte, error) {
	c1, c2, err := ElGamalEncrypt(msg, pub)
	if err != nil {
		return nil, err
	}
	return append(c1.Bytes(), c2.Bytes()...), nil
}

// DecryptECC256 decrypts a 128-byte ciphertext and returns the x coordinate
// of the plaintext point as 32 bytes.
func DecryptECC256(key *EccKey, ct []byte) ([]byte, error) {
	if len(ct) < 2*EccPublicSize {
		return nil, errors.Errorf("elgamal: ciphertext must be %d bytes, got %d", 2*EccPublicSize, len(ct))
	}
	c1, err := ParsePoint(ct[:64])
	if err != nil {
		return nil, err
	}
	c2, err := ParsePoint(ct[64:128])
	if err != nil {
		return nil, err
	}
	m := ElGamalDecrypt(c1, c2, key.D)
	return intBytes(m.X, EccScalarSize), nil
}
