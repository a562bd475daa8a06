package crypto_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/crypto"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestCBC_RoundTrip(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	iv := make([]byte, 16)
	for _, msg := range [][]byte{{}, []byte("sixteen bytes!!!"), []byte("hello")} {
		ct, err := crypto.EncryptCBC(key, iv, msg)
		require.NoError(t, err)
		assert.Zero(t, len(ct)%16)
		assert.Greater(t, len(ct), len(msg))

		pt, err := crypto.DecryptCBC(key, iv, ct)
		require.NoError(t, err)
		assert.Equal(t, msg, pt)
	}
}

func TestCBC_BadPaddingRejected(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	ct, err := crypto.EncryptCBC(key, iv, []byte("payload of twenty b!"))
	require.Len(t, ct, 32)
	require.NoError(t, err)

	bad := append([]byte{}, ct...)
	bad[len(bad)-17] ^= 0xff
	_, err = crypto.DecryptCBC(key, iv, bad)
	assert.ErrorIs(t, err, crypto.ErrInvalidPadding)

	_, err = crypto.DecryptCBC(key, iv, ct[:len(ct)-1])
	assert.ErrorIs(t, err, crypto.ErrBlockSize)
}

func TestECB_KnownAnswer(t *testing.T) {
	// FIPS-197 appendix C.1
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	pt := mustHex(t, "00112233445566778899aabbccddeeff")
	ct, err := crypto.EncryptECB(key, append(append([]byte{}, pt...), pt...))
	require.NoError(t, err)
	want := mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")
	assert.Equal(t, want, ct[:16])
	assert.Equal(t, want, ct[16:])

	_, err = crypto.EncryptECB(key, pt[:15])
	assert.ErrorIs(t, err, crypto.ErrBlockSize)
}

func TestCMAC_RFC4493(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	mac, err := crypto.CMAC(key)
	require.NoError(t, err)
	assert.Equal(t, "bb1d6929e95937287fa37d129b756746", hex.EncodeToString(mac))

	mac, err = crypto.CMAC(key, mustHex(t, "6bc1bee22e409f96"), mustHex(t, "e93d7e117393172a"))
	require.NoError(t, err)
	assert.Equal(t, "070a16b46b4d4144f79bdd9dd04a287c", hex.EncodeToString(mac))

	_, err = crypto.CMAC([]byte("short"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestHMACSHA256_PartsConcatenate(t *testing.T) {
	key := []byte("k")
	assert.Equal(t,
		crypto.HMACSHA256(key, []byte("abcdef")),
		crypto.HMACSHA256(key, []byte("abc"), []byte("def")))
	assert.True(t, crypto.Equal([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, crypto.Equal([]byte{1, 2}, []byte{1, 3}))
}

func TestRSA_OAEPAndPSS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	parsed, err := crypto.ParseRSAPrivateKey(crypto.MarshalRSAPrivateKey(priv))
	require.NoError(t, err)

	ct, err := crypto.EncryptOAEP(&parsed.PublicKey, []byte("session key"))
	require.NoError(t, err)
	pt, err := crypto.DecryptOAEP(parsed, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("session key"), pt)

	sig, err := crypto.SignPSS(parsed, []byte("message"))
	require.NoError(t, err)
	assert.NoError(t, crypto.VerifyPSS(&priv.PublicKey, []byte("message"), sig))
	assert.Error(t, crypto.VerifyPSS(&priv.PublicKey, []byte("tampered"), sig))
}

func TestRSA_MalformedKeyRejected(t *testing.T) {
	_, err := crypto.ParseRSAPrivateKey([]byte("not a key"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
	_, err = crypto.ParseRSAPublicKey([]byte{0x30, 0x01})
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestEcc_SignVerifyRaw(t *testing.T) {
	key, err := crypto.GenerateEccKey()
	require.NoError(t, err)

	sig, err := key.Sign([]byte("payload"))
	require.NoError(t, err)
	require.Len(t, sig, 64)

	assert.True(t, crypto.VerifyECDSA(key.PublicBytes(), []byte("payload"), sig))
	assert.False(t, crypto.VerifyECDSA(key.PublicBytes(), []byte("other"), sig))
	assert.False(t, crypto.VerifyECDSA(key.PublicBytes()[:63], []byte("payload"), sig))
}

func TestEcc_ParseDump(t *testing.T) {
	key, err := crypto.GenerateEccKey()
	require.NoError(t, err)

	dump := key.Dump()
	require.Len(t, dump, 96)

	back, err := crypto.ParseEccKey(dump)
	require.NoError(t, err)
	assert.Equal(t, key.PublicBytes(), back.PublicBytes())

	fromScalar, err := crypto.ParseEccKey(dump[:32])
	require.NoError(t, err)
	assert.Equal(t, key.PublicBytes(), fromScalar.PublicBytes())

	dump[95] ^= 1
	_, err = crypto.ParseEccKey(dump)
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	_, err = crypto.ParseEccKey(make([]byte, 32))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestElGamal_RoundTrip(t *testing.T) {
	recipient, err := crypto.GenerateEccKey()
	require.NoError(t, err)
	msg, err := crypto.GenerateEccKey()
	require.NoError(t, err)

	ct, err := crypto.EncryptECC256(msg.Point(), recipient.Point())
	require.NoError(t, err)
	require.Len(t, ct, 128)

	x, err := crypto.DecryptECC256(recipient, ct)
	require.NoError(t, err)
	assert.Equal(t, msg.PublicBytes()[:32], x)

	other, err := crypto.GenerateEccKey()
	require.NoError(t, err)
	wrong, err := crypto.DecryptECC256(other, ct)
	require.NoError(t, err)
	assert.NotEqual(t, msg.PublicBytes()[:32], wrong)

	_, err = crypto.DecryptECC256(recipient, ct[:100])
	assert.Error(t, err)
}

func TestFingerprint_Stable(t *testing.T) {
	a := crypto.Fingerprint([]byte("pub"))
	assert.Len(t, a, 20)
	assert.Equal(t, a, crypto.Fingerprint([]byte("pub")))
	assert.NotEqual(t, a, crypto.Fingerprint([]byte("pub2")))
	assert.Equal(t, crypto.Fingerprint([]byte("pubkey")), crypto.Fingerprint([]byte("pub"), []byte("key")))
}
