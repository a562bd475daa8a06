package playready_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
	"cdmkit/internal/protocol/playready/playreadytest"
)

var testKeyID = playreadytest.KeyID

func TestParseLicense_ObjectsInsideContainer(t *testing.T) {
	f := newFixture(t)
	ct, x := wrapKey(t, f.device.EncryptionKey.Point())
	raw := buildLicense(t, x[:16], contentKeyObject(testKeyID, playready.CipherECC256, ct))

	lic, err := playready.ParseLicense(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), lic.Version())
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 16), lic.RightsID())
	assert.Len(t, lic.Objects(playready.XmrOuterContainer), 1)
	assert.Len(t, lic.Objects(playready.XmrSignature), 1)
	assert.False(t, lic.Scalable())

	keys := lic.ContentKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, testKeyID, keys[0].KeyID)
	assert.Equal(t, playready.CipherECC256, keys[0].CipherType)
	assert.Equal(t, ct, keys[0].EncryptedKey)

	ok, err := lic.CheckSignature(x[:16])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lic.CheckSignature(x[16:])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseLicense_TrailingBytesRejected(t *testing.T) {
	f := newFixture(t)
	ct, x := wrapKey(t, f.device.EncryptionKey.Point())
	raw := buildLicense(t, x[:16], contentKeyObject(testKeyID, playready.CipherECC256, ct))

	_, err := playready.ParseLicense(append(raw, 0x00, 0x01, 0x02))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = playready.ParseLicense(raw[:10])
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestParseLicenseResponse_RecoversKey(t *testing.T) {
	f := newFixture(t)
	ct, x := wrapKey(t, f.device.EncryptionKey.Point())
	raw := buildLicense(t, x[:16], contentKeyObject(testKeyID, playready.CipherECC256, ct))

	keys, err := playready.ParseLicenseResponse(licenseResponse(raw), f.device.EncryptionKey)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "6f651ae1dbe44434bcb4690d1564c41c", keys[0].KeyIDHex())
	assert.Equal(t, x[16:], keys[0].Value)
	assert.Equal(t, playready.CipherECC256, keys[0].CipherType)
	assert.Equal(t, "AES_128_CTR", keys[0].Type)
}

func TestParseLicenseResponse_ScalableSplitsInterleavedKey(t *testing.T) {
	f := newFixture(t)
	ct, x := wrapKey(t, f.device.EncryptionKey.Point())

	var ci, ck []byte
	for i, b := range x {
		if i%2 == 0 {
			ci = append(ci, b)
		} else {
			ck = append(ck, b)
		}
	}
	raw := buildLicense(t, ci,
		contentKeyObject(testKeyID, playready.CipherECC256WithKZ, ct),
		auxKeysObject(bytes.Repeat([]byte{0x11}, 16)),
	)

	keys, err := playready.ParseLicenseResponse(licenseResponse(raw), f.device.EncryptionKey)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, ck, keys[0].Value)
}

func TestParseLicenseResponse_ViaSymmetricUplink(t *testing.T) {
	f := newFixture(t)
	wrapped, x := wrapKey(t, f.device.EncryptionKey.Point())

	var ck []byte
	for i := 1; i < 32; i += 2 {
		ck = append(ck, x[i])
	}
	aux := bytes.Repeat([]byte{0x22}, 16)
	rootTail := bytes.Repeat([]byte{0x33}, 16)
	leafPlain := bytes.Repeat([]byte{0x44}, 16)
	leafKey := bytes.Repeat([]byte{0x55}, 16)

	// expected leaf keys, derived the same way a scalable client does
	rgbKey := make([]byte, 16)
	for i := range rgbKey {
		rgbKey[i] = ck[i] ^ playready.RgbMagicConstantZero[i]
	}
	ckPrime, err := crypto.EncryptECB(ck, rgbKey)
	require.NoError(t, err)
	uplinkX, err := crypto.EncryptECB(ckPrime, aux)
	require.NoError(t, err)
	secondary, err := crypto.EncryptECB(ck, rootTail)
	require.NoError(t, err)

	embeddedLeaf := append(append([]byte{}, leafPlain...), leafKey...)
	step, err := crypto.EncryptECB(uplinkX, embeddedLeaf)
	require.NoError(t, err)
	want, err := crypto.EncryptECB(secondary, step)
	require.NoError(t, err)

	encrypted := append(append(append([]byte{}, wrapped...), rootTail...), embeddedLeaf...)
	raw := buildLicense(t, want[:16],
		contentKeyObject(testKeyID, playready.CipherECC256ViaSymmetric, encrypted),
		auxKeysObject(aux),
	)

	keys, err := playready.ParseLicenseResponse(licenseResponse(raw), f.device.EncryptionKey)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, want[16:32], keys[0].Value)
}

func TestParseLicenseResponse_IntegrityMismatchYieldsNoKeys(t *testing.T) {
	f := newFixture(t)
	ct, x := wrapKey(t, f.device.EncryptionKey.Point())
	good := buildLicense(t, x[:16], contentKeyObject(testKeyID, playready.CipherECC256, ct))

	other, otherX := wrapKey(t, f.device.EncryptionKey.Point())
	bad := buildLicense(t, otherX[:16], contentKeyObject(testKeyID, playready.CipherECC256, other))
	bad[len(bad)-1] ^= 0xff

	keys, err := playready.ParseLicenseResponse(licenseResponse(good, bad), f.device.EncryptionKey)
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
	assert.Empty(t, keys)
}

func TestParseLicenseResponse_UnsupportedCipherType(t *testing.T) {
	f := newFixture(t)
	ct, x := wrapKey(t, f.device.EncryptionKey.Point())
	raw := buildLicense(t, x[:16], contentKeyObject(testKeyID, playready.CipherRSA1024, ct))

	keys, err := playready.ParseLicenseResponse(licenseResponse(raw), f.device.EncryptionKey)
	assert.ErrorIs(t, err, domain.ErrUnsupported)
	assert.Empty(t, keys)
}

func TestParseLicenseResponse_NoLicenseIsInvalid(t *testing.T) {
	f := newFixture(t)
	keys, err := playready.ParseLicenseResponse(licenseResponse(), f.device.EncryptionKey)
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
	assert.Empty(t, keys)

	_, err = playready.ParseLicenseResponse(`<?xml version="1.0"?><Envelope/>`, f.device.EncryptionKey)
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
}

func TestParseLicenseResponse_SoapFault(t *testing.T) {
	f := newFixture(t)
	body := `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		`<soap:Fault><faultcode>soap:Server</faultcode><faultstring>System.Web.Services.Protocols.SoapException: Invalid challenge</faultstring>` +
		`<detail><Exception><StatusCode>0x8004c600</StatusCode></Exception></detail></soap:Fault></soap:Body></soap:Envelope>`

	_, err := playready.ParseLicenseResponse(body, f.device.EncryptionKey)
	var se *playready.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "0x8004c600", se.StatusCode)
	assert.Contains(t, se.Error(), "Invalid challenge")

	fault, ok := playready.ParseFault([]byte(body))
	require.True(t, ok)
	assert.Equal(t, "soap:Server", fault.Code)

	_, ok = playready.ParseFault([]byte("<ok/>"))
	assert.False(t, ok)
}

func TestSwapGUID(t *testing.T) {
	assert.Equal(t,
		[]byte{4, 3, 2, 1, 6, 5, 8, 7, 9, 10, 11, 12, 13, 14, 15, 16},
		playready.SwapGUID([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}))
}
