package widevine_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/widevine"
	"cdmkit/internal/protocol/widevine/widevinetest"
)

func newDevice(t *testing.T, typ widevine.DeviceType) *widevine.Device {
	t.Helper()
	d, err := widevinetest.NewDevice(typ)
	require.NoError(t, err)
	return d
}

func TestDevice_WVDRoundTrip(t *testing.T) {
	d := newDevice(t, widevine.DeviceChrome)
	raw, err := d.Dump()
	require.NoError(t, err)
	assert.Equal(t, []byte("WVD\x02\x01\x03\x00"), raw[:7])

	loaded, err := widevine.LoadDevice(raw)
	require.NoError(t, err)
	assert.Equal(t, widevine.DeviceChrome, loaded.Type)
	assert.Equal(t, 3, loaded.SecurityLevel)
	assert.True(t, loaded.PrivateKey.Equal(d.PrivateKey))
	assert.Equal(t, d.ClientID.Raw, loaded.ClientID.Raw)
	assert.Equal(t, uint32(widevinetest.SystemID), loaded.SystemID())
	assert.Equal(t, "cdmkit_testdevice", loaded.Name())
	assert.Equal(t, "cdmkit testdevice", loaded.Label())
	assert.Equal(t, "4464 L3", loaded.String())
}

func TestDevice_Unpacked(t *testing.T) {
	d := newDevice(t, widevine.DeviceAndroid)
	clientID, pemKey := d.Unpack()
	assert.Contains(t, string(pemKey), "BEGIN RSA PRIVATE KEY")

	loaded, err := widevine.LoadUnpacked(clientID, pemKey)
	require.NoError(t, err)
	assert.Equal(t, widevine.DeviceAndroid, loaded.Type)
	assert.True(t, loaded.PrivateKey.Equal(d.PrivateKey))
}

func TestDevice_KeyMustMatchCertificate(t *testing.T) {
	d := newDevice(t, widevine.DeviceAndroid)
	other, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	_, err = widevine.NewDevice(widevine.DeviceAndroid, 3, d.ClientID.Raw, other)
	var certErr *domain.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificate)
}

func TestLoadDevice_Rejects(t *testing.T) {
	_, err := widevine.LoadDevice([]byte("WVD\x09\x01\x03\x00rest"))
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	_, err = widevine.LoadDevice([]byte("PRD\x02"))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	d := newDevice(t, widevine.DeviceAndroid)
	raw, err := d.Dump()
	require.NoError(t, err)
	_, err = widevine.LoadDevice(raw[:len(raw)-10])
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}
