package playready_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cdmkit/internal/crypto"
	"cdmkit/internal/protocol/playready"
	"cdmkit/internal/protocol/playready/playreadytest"
)

const testWRMHeader = playreadytest.WRMHeader

type fixture struct {
	root   *crypto.EccKey
	group  *crypto.EccKey
	device *playready.Device
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	h, err := playreadytest.NewHierarchy()
	require.NoError(t, err)
	return fixture{root: h.Root, group: h.Group, device: h.Device}
}

type xmrObject = playreadytest.Object

func contentKeyObject(keyID []byte, cipherType uint16, encrypted []byte) xmrObject {
	return playreadytest.ContentKeyObject(keyID, cipherType, encrypted)
}

func auxKeysObject(key []byte) xmrObject { return playreadytest.AuxKeysObject(key) }

func buildLicense(t *testing.T, ci []byte, objects ...xmrObject) []byte {
	t.Helper()
	raw, err := playreadytest.BuildLicense(ci, objects...)
	require.NoError(t, err)
	return raw
}

func licenseResponse(licenses ...[]byte) string { return playreadytest.LicenseResponse(licenses...) }

func wrapKey(t *testing.T, pub crypto.Point) ([]byte, []byte) {
	t.Helper()
	ct, x, err := playreadytest.WrapKey(pub)
	require.NoError(t, err)
	return ct, x
}
