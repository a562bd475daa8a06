package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"github.com/pkg/errors"
)

// P256 is the only curve either protocol uses.
var P256 = elliptic.P256()

const (
	// EccScalarSize is the width of a private scalar or a single coordinate.
	EccScalarSize = 32
	// EccPublicSize is the raw x||y public point width.
	EccPublicSize = 64
	// EccDumpSize is the d||x||y width stored in device files.
	EccDumpSize = 96
)

// EccKey is a P-256 key pair with raw big-endian encodings.
type EccKey struct {
	D *big.Int
	X *big.Int
	Y *big.Int
}

// GenerateEccKey returns a fresh random P-256 key pair.
func GenerateEccKey() (*EccKey, error) {
	n := P256.Params().N
	d, err := rand.Int(rand.Reader, new(big.Int).Sub(n, big.NewInt(1)))
	if err != nil {
		return nil, errors.Wrap(err, "ecc: random scalar")
	}
	d.Add(d, big.NewInt(1))
	return EccKeyFromScalar(d)
}

// EccKeyFromScalar derives the public point for d.
func EccKeyFromScalar(d *big.Int) (*EccKey, error) {
	n := P256.Params().N
	if d.Sign() <= 0 || d.Cmp(n) >= 0 {
		return nil, errors.Wrap(ErrInvalidKey, "ecc: scalar out of range")
	}
	x, y := P256.ScalarBaseMult(intBytes(d, EccScalarSize))
	return &EccKey{D: new(big.Int).Set(d), X: x, Y: y}, nil
}

// ParseEccKey accepts either a 32-byte private scalar or the 96-byte d||x||y
// dump. A dump whose public half does not match d is rejected.
func ParseEccKey(data []byte) (*EccKey, error) {
	switch len(data) {
	case EccScalarSize, EccDumpSize:
	default:
		return nil, errors.Wrapf(ErrInvalidKey, "ecc: want %d or %d bytes, got %d", EccScalarSize, EccDumpSize, len(data))
	}
	key, err := EccKeyFromScalar(new(big.Int).SetBytes(data[:EccScalarSize]))
	if err != nil {
		return nil, err
	}
	if len(data) == EccDumpSize {
		x := new(big.Int).SetBytes(data[32:64])
		y := new(big.Int).SetBytes(data[64:96])
		if x.Cmp(key.X) != 0 || y.Cmp(key.Y) != 0 {
			return nil, errors.Wrap(ErrInvalidKey, "ecc: public point does not match scalar")
		}
	}
	return key, nil
}

// PrivateBytes returns d as 32 bytes.
func (k *EccKey) PrivateBytes() []byte { return intBytes(k.D, EccScalarSize) }

// PublicBytes returns x||y as 64 bytes.
func (k *EccKey) PublicBytes() []byte { return PointBytes(k.X, k.Y) }

// Dump returns d||x||y.
func (k *EccKey) Dump() []byte {
	return append(k.PrivateBytes(), k.PublicBytes()...)
}

// PublicDigest is SHA-256 of the raw public point.
func (k *EccKey) PublicDigest() []byte { return SHA256(k.PublicBytes()) }

// Point returns the public point.
func (k *EccKey) Point() Point { return Point{X: k.X, Y: k.Y} }

// Sign produces a raw r||s ECDSA signature over SHA-256(data).
func (k *EccKey) Sign(data []byte) ([]byte, error) {
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: P256, X: k.X, Y: k.Y},
		D:         k.D,
	}
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "ecc: sign")
	}
	return append(intBytes(r, EccScalarSize), intBytes(s, EccScalarSize)...), nil
}

// VerifyECDSA checks a raw r||s signature over SHA-256(data) against a raw
// 64-byte public point.
func VerifyECDSA(pub, data, sig []byte) bool {
	if len(pub) != EccPublicSize || len(sig) != 2*EccScalarSize {
		return false
	}
	p, err := ParsePoint(pub)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(&ecdsa.PublicKey{Curve: P256, X: p.X, Y: p.Y}, digest[:], r, s)
}

// PointBytes encodes (x, y) as 64 raw bytes.
func PointBytes(x, y *big.Int) []byte {
	return append(intBytes(x, EccScalarSize), intBytes(y, EccScalarSize)...)
}

// ParsePoint decodes 64 raw bytes and checks the point is on the curve.
func ParsePoint(b []byte) (Point, error) {
	if len(b) != EccPublicSize {
		return Point{}, errors.Wrapf(ErrInvalidKey, "ecc: point must be %d bytes, got %d", EccPublicSize, len(b))
	}
	x := new(big.Int).SetBytes(b[:32])
	y := new(big.Int).SetBytes(b[32:])
	if !P256.IsOnCurve(x, y) {
		return Point{}, errors.Wrap(ErrInvalidKey, "ecc: point not on curve")
	}
	return Point{X: x, Y: y}, nil
}
