package store

import (
	"crypto/rand"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// envelopeVersion is the newest sealed blob format this package writes.
const envelopeVersion = 1

// ErrWrongPassphrase is returned when a sealed blob does not open.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// envelope is the on-disk JSON form of a sealed blob.
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// scryptParams are the key derivation costs for new envelopes.
type scryptParams struct{ N, R, P int }

var defaultScrypt = scryptParams{N: 1 << 15, R: 8, P: 1}

// seal derives a key from passphrase and encrypts raw. The salt is fresh
// per call, so the zero nonce is never reused under one key.
func seal(passphrase string, raw []byte, sp scryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], sp.N, sp.R, sp.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return json.Marshal(envelope{
		V:      envelopeVersion,
		Salt:   salt[:],
		N:      sp.N,
		R:      sp.R,
		P:      sp.P,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	})
}

// open reverses seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if env.V < 1 || env.V > envelopeVersion {
		return nil, errors.Errorf("unsupported envelope version %d", env.V)
	}
	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
