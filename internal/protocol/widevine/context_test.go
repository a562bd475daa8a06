package widevine_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/crypto"
	"cdmkit/internal/protocol/widevine"
)

func TestDeriveContext_Layout(t *testing.T) {
	msg := []byte("request-bytes")
	enc, auth := widevine.DeriveContext(msg)

	assert.Equal(t, "ENCRYPTION\x00request-bytes", string(enc[:len(enc)-4]))
	assert.Equal(t, uint32(128), binary.BigEndian.Uint32(enc[len(enc)-4:]))
	assert.Equal(t, "AUTHENTICATION\x00request-bytes", string(auth[:len(auth)-4]))
	assert.Equal(t, uint32(512), binary.BigEndian.Uint32(auth[len(auth)-4:]))
}

func TestDeriveKeys_CounterBlocks(t *testing.T) {
	sessionKey := []byte("0123456789abcdef")
	enc, auth := widevine.DeriveContext([]byte("msg"))

	keys, err := widevine.DeriveKeys(enc, auth, sessionKey)
	require.NoError(t, err)
	require.Len(t, keys.Enc, 16)
	require.Len(t, keys.MacServer, 32)
	require.Len(t, keys.MacClient, 32)

	block := func(counter byte, input []byte) []byte {
		out, err := crypto.CMAC(sessionKey, append([]byte{counter}, input...))
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, block(1, enc), keys.Enc)
	assert.Equal(t, append(block(1, auth), block(2, auth)...), keys.MacServer)
	assert.Equal(t, append(block(3, auth), block(4, auth)...), keys.MacClient)

	keys.Wipe()
	assert.Equal(t, make([]byte, 16), keys.Enc)
}

func TestDeriveKeys_BadSessionKey(t *testing.T) {
	enc, auth := widevine.DeriveContext([]byte("msg"))
	_, err := widevine.DeriveKeys(enc, auth, []byte("short"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}
