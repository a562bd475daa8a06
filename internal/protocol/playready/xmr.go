package playready

import (
	"github.com/Velocidex/ordereddict"

	"cdmkit/internal/codec"
	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// XMR object types the license parser acts on.
const (
	XmrOuterContainer uint16 = 0x0001
	XmrContentKey     uint16 = 0x000a
	XmrSignature      uint16 = 0x000b
	XmrAuxKeys        uint16 = 0x0051

	xmrFlagContainer uint32 = 0x0002
	xmrHeaderSize           = 8
)

// Symmetric content key types.
const (
	KeyTypeAES128CTR uint16 = 0x0001
	KeyTypeRC4       uint16 = 0x0002
	KeyTypeAES128ECB uint16 = 0x0003
	KeyTypeCocktail  uint16 = 0x0004
	KeyTypeAES128CBC uint16 = 0x0005
)

// Content key encryption types.
const (
	CipherRSA1024            uint16 = 0x0001
	CipherChainedLicense     uint16 = 0x0002
	CipherECC256             uint16 = 0x0003
	CipherECC256WithKZ       uint16 = 0x0004
	CipherTEETransient       uint16 = 0x0005
	CipherECC256ViaSymmetric uint16 = 0x0006
)

// KeyTypeName names a symmetric key type for display.
func KeyTypeName(t uint16) string {
	switch t {
	case KeyTypeAES128CTR:
		return "AES_128_CTR"
	case KeyTypeRC4:
		return "RC4_CIPHER"
	case KeyTypeAES128ECB:
		return "AES_128_ECB"
	case KeyTypeCocktail:
		return "COCKTAIL"
	case KeyTypeAES128CBC:
		return "AES_128_CBC"
	default:
		return "UNKNOWN"
	}
}

var (
	contentKeyObject = codec.Struct(
		codec.F("key_id", codec.Bytes(codec.Fixed(16))),
		codec.F("key_type", codec.Uint16),
		codec.F("cipher_type", codec.Uint16),
		codec.F("key_length", codec.Uint16),
		codec.F("encrypted_key", codec.Bytes(codec.Ref("key_length"))),
	)

	signatureObject = codec.Struct(
		codec.F("signature_type", codec.Uint16),
		codec.F("signature_data_length", codec.Uint16),
		codec.F("signature_data", codec.Bytes(codec.Ref("signature_data_length"))),
	)

	auxKeysObject = codec.Struct(
		codec.F("count", codec.Uint16),
		codec.F("auxiliary_keys", codec.List(codec.Ref("count"), codec.Struct(
			codec.F("location", codec.Uint32),
			codec.F("key", codec.Bytes(codec.Fixed(16))),
		))),
	)

	// XmrObject and XmrLicense are recursive through container objects
	// and are built in init.
	XmrObject  codec.Codec
	XmrLicense codec.Codec
)

func init() {
	XmrObject = codec.Struct(
		codec.F("flags", codec.Uint16),
		codec.F("type", codec.Uint16),
		codec.F("length", codec.Uint32),
		codec.F("data", codec.Prefixed(
			codec.RefFunc("length", func(n int) int { return n - xmrHeaderSize }),
			codec.Switch(xmrObjectCodec),
		)),
	)
	XmrLicense = codec.Struct(
		codec.F("signature", codec.Bytes(codec.Fixed(4))),
		codec.F("xmr_version", codec.Uint32),
		codec.F("rights_id", codec.Bytes(codec.Fixed(16))),
		codec.F("containers", codec.Greedy(XmrObject)),
	)
}

// xmrObjectCodec picks the payload layout for an object. Container objects
// hold further objects.
func xmrObjectCodec(s *codec.Scope) (codec.Codec, error) {
	flags, err := s.Int("flags")
	if err != nil {
		return nil, err
	}
	if uint32(flags)&xmrFlagContainer != 0 {
		return codec.Greedy(XmrObject), nil
	}
	typ, err := s.Int("type")
	if err != nil {
		return nil, err
	}
	switch uint16(typ) {
	case XmrContentKey:
		return contentKeyObject, nil
	case XmrSignature:
		return signatureObject, nil
	case XmrAuxKeys:
		return auxKeysObject, nil
	default:
		return codec.Remaining, nil
	}
}

// License is a decoded XMR license.
type License struct {
	raw    []byte
	parsed *ordereddict.Dict
}

// ContentKey is a decoded content-key object.
type ContentKey struct {
	KeyID        []byte
	KeyType      uint16
	CipherType   uint16
	EncryptedKey []byte
}

// AuxKey is one entry of an auxiliary-keys object.
type AuxKey struct {
	Location uint32
	Key      []byte
}

// ParseLicense decodes an XMR license. Every byte must belong to an object.
func ParseLicense(data []byte) (*License, error) {
	v, n, err := codec.Decode(XmrLicense, data)
	if err != nil {
		return nil, domain.Malformed(err, "xmr license")
	}
	if n != len(data) {
		return nil, domain.Malformed(codec.ErrLengthMismatch, "xmr license: %d trailing bytes", len(data)-n)
	}
	return &License{raw: append([]byte(nil), data...), parsed: v.(*ordereddict.Dict)}, nil
}

// Version is the XMR format version.
func (l *License) Version() uint32 {
	v, _ := codec.GetUint(l.parsed, "xmr_version")
	return v
}

// RightsID is the license's 16-byte rights identifier.
func (l *License) RightsID() []byte { return codec.GetBytes(l.parsed, "rights_id") }

// Objects returns the payloads of every object of type t, searching inside
// container objects.
func (l *License) Objects(t uint16) []any {
	var out []any
	var walk func(items []any)
	walk = func(items []any) {
		for _, item := range items {
			obj, ok := item.(*ordereddict.Dict)
			if !ok {
				continue
			}
			flags, _ := codec.GetUint(obj, "flags")
			typ, _ := codec.GetUint(obj, "type")
			if uint16(typ) == t {
				v, _ := obj.Get("data")
				out = append(out, v)
			}
			if flags&xmrFlagContainer != 0 {
				walk(codec.GetList(obj, "data"))
			}
		}
	}
	walk(codec.GetList(l.parsed, "containers"))
	return out
}

// ContentKeys returns every content-key object.
func (l *License) ContentKeys() []ContentKey {
	var out []ContentKey
	for _, obj := range l.Objects(XmrContentKey) {
		d, ok := obj.(*ordereddict.Dict)
		if !ok {
			continue
		}
		keyType, _ := codec.GetUint(d, "key_type")
		cipherType, _ := codec.GetUint(d, "cipher_type")
		out = append(out, ContentKey{
			KeyID:        codec.GetBytes(d, "key_id"),
			KeyType:      uint16(keyType),
			CipherType:   uint16(cipherType),
			EncryptedKey: codec.GetBytes(d, "encrypted_key"),
		})
	}
	return out
}

// AuxKeys returns the entries of the first auxiliary-keys object.
func (l *License) AuxKeys() []AuxKey {
	objs := l.Objects(XmrAuxKeys)
	if len(objs) == 0 {
		return nil
	}
	d, _ := objs[0].(*ordereddict.Dict)
	var out []AuxKey
	for _, item := range codec.GetList(d, "auxiliary_keys") {
		entry, ok := item.(*ordereddict.Dict)
		if !ok {
			continue
		}
		loc, _ := codec.GetUint(entry, "location")
		out = append(out, AuxKey{Location: loc, Key: codec.GetBytes(entry, "key")})
	}
	return out
}

// Scalable reports whether the license carries auxiliary keys.
func (l *License) Scalable() bool { return len(l.Objects(XmrAuxKeys)) > 0 }

// CheckSignature recomputes the AES-CMAC over everything preceding the
// signature object and compares it with the embedded signature.
func (l *License) CheckSignature(integrityKey []byte) (bool, error) {
	objs := l.Objects(XmrSignature)
	if len(objs) == 0 {
		return false, nil
	}
	sig, ok := objs[0].(*ordereddict.Dict)
	if !ok {
		return false, nil
	}
	sigLen, _ := codec.GetUint(sig, "signature_data_length")
	cut := len(l.raw) - (int(sigLen) + 12)
	if cut < 0 {
		return false, nil
	}
	mac, err := crypto.CMAC(integrityKey, l.raw[:cut])
	if err != nil {
		return false, err
	}
	return crypto.Equal(mac, codec.GetBytes(sig, "signature_data")), nil
}
