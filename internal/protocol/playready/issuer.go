package playready

import (
	"github.com/Velocidex/ordereddict"

	"cdmkit/internal/crypto"
)

// NewIssuerCertificate builds a group certificate delegating to issued,
// signed by signer.
func NewIssuerCertificate(signer, issued *crypto.EccKey, level uint32) (*Certificate, error) {
	basic, err := newAttribute(AttrBasic, basicInfo, ordereddict.NewDict().
		Set("cert_id", make([]byte, 16)).
		Set("security_level", level).
		Set("flags", CertFlagEmpty).
		Set("cert_type", CertTypeIssuer).
		Set("public_key_digest", issued.PublicDigest()).
		Set("expiration_date", uint32(0xffffffff)).
		Set("client_id", make([]byte, 16)))
	if err != nil {
		return nil, err
	}
	keys, err := newAttribute(AttrKey, keyInfo, ordereddict.NewDict().
		Set("key_count", uint32(1)).
		Set("cert_keys", []any{ordereddict.NewDict().
			Set("type", uint32(KeyTypeECC256)).
			Set("length", uint32(512)).
			Set("flags", CertFlagEmpty).
			Set("key", issued.PublicBytes()).
			Set("usages_count", uint32(1)).
			Set("usages", []any{KeyUsageIssuerDevice})}))
	if err != nil {
		return nil, err
	}
	manufacturer, err := newAttribute(AttrManufacturer, manufacturerInfo, ordereddict.NewDict().
		Set("flags", uint32(0)).
		Set("manufacturer_name_length", uint32(6)).
		Set("manufacturer_name", []byte("cdmkit\x00\x00")).
		Set("model_name_length", uint32(4)).
		Set("model_name", []byte("Test")).
		Set("model_number_length", uint32(1)).
		Set("model_number", []byte("1\x00\x00\x00")))
	if err != nil {
		return nil, err
	}
	return signCertificate([]any{basic, keys, manufacturer}, signer)
}
