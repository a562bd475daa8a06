package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

var (
	ErrInvalidKey     = errors.New("invalid key material")
	ErrInvalidPadding = errors.New("invalid padding")
	ErrBlockSize      = errors.New("input is not a multiple of the block size")
)

// EncryptCBC encrypts plaintext with AES-CBC and PKCS#7 padding.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.Wrapf(ErrInvalidKey, "iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	padded := pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// DecryptCBC decrypts AES-CBC ciphertext and strips PKCS#7 padding.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.Wrapf(ErrInvalidKey, "iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrBlockSize
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out)
}

// EncryptECB applies the AES permutation to each 16-byte block of data.
func EncryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, ErrBlockSize
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return out, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
