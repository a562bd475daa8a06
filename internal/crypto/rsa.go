package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

// ParseRSAPrivateKey accepts PEM or DER, in PKCS#1 or PKCS#8 form.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, "not a PKCS#1 or PKCS#8 RSA private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidKey, "expected RSA private key, got %T", parsed)
	}
	return key, nil
}

// ParseRSAPublicKey accepts PEM or DER, in PKCS#1 or PKIX form.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, "not a PKCS#1 or PKIX RSA public key")
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidKey, "expected RSA public key, got %T", parsed)
	}
	return key, nil
}

// MarshalRSAPrivateKey encodes key as PKCS#1 DER.
func MarshalRSAPrivateKey(key *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(key)
}

// EncryptOAEP encrypts msg with RSA-OAEP (SHA-1, no label).
func EncryptOAEP(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, msg, nil)
}

// DecryptOAEP decrypts RSA-OAEP (SHA-1, no label) ciphertext.
func DecryptOAEP(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ct, nil)
}

var pssOptions = &rsa.PSSOptions{SaltLength: 20, Hash: stdcrypto.SHA1}

// SignPSS signs msg with RSA-PSS over SHA-1 with a 20-byte salt.
func SignPSS(priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	sum := sha1.Sum(msg)
	return rsa.SignPSS(rand.Reader, priv, stdcrypto.SHA1, sum[:], pssOptions)
}

// VerifyPSS checks an RSA-PSS SHA-1 signature.
func VerifyPSS(pub *rsa.PublicKey, msg, sig []byte) error {
	sum := sha1.Sum(msg)
	return rsa.VerifyPSS(pub, stdcrypto.SHA1, sum[:], sig, pssOptions)
}
