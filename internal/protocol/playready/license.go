package playready

import (
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// RgbMagicConstantZero seeds the scalable-license key transform.
var RgbMagicConstantZero = mustHex("7ee9ed4af773224f00b8ea7efb027cbb")

// ParseLicenseResponse decrypts every content key of every license in a
// license response. Any integrity failure aborts the whole response.
func ParseLicenseResponse(response string, encryptionKey *crypto.EccKey) ([]domain.Key, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(response); err != nil {
		return nil, domain.Malformed(err, "license response")
	}
	if fault, ok := faultFromDocument(doc); ok {
		return nil, fault
	}

	licenses := findAll(doc.Root(), "License")
	if len(licenses) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidLicense, "response carries no license")
	}
	var keys []domain.Key
	for i, el := range licenses {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(el.Text()))
		if err != nil {
			return nil, domain.Malformed(err, "license %d", i)
		}
		lic, err := ParseLicense(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "license %d", i)
		}
		got, err := licenseKeys(lic, encryptionKey)
		if err != nil {
			return nil, errors.WithMessagef(err, "license %d", i)
		}
		keys = append(keys, got...)
	}
	return keys, nil
}

func licenseKeys(lic *License, encryptionKey *crypto.EccKey) ([]domain.Key, error) {
	scalable := lic.Scalable()
	var keys []domain.Key
	for _, ck := range lic.ContentKeys() {
		ci, contentKey, err := unwrapContentKey(lic, ck, encryptionKey, scalable)
		if err != nil {
			return nil, err
		}
		ok, err := lic.CheckSignature(ci)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrap(domain.ErrInvalidLicense, "license integrity signature does not match")
		}
		keys = append(keys, domain.Key{
			ID:         SwapGUID(ck.KeyID),
			Value:      contentKey,
			Type:       KeyTypeName(ck.KeyType),
			CipherType: ck.CipherType,
		})
	}
	return keys, nil
}

// unwrapContentKey returns the integrity key and the content key.
func unwrapContentKey(lic *License, ck ContentKey, encryptionKey *crypto.EccKey, scalable bool) ([]byte, []byte, error) {
	switch ck.CipherType {
	case CipherECC256, CipherECC256WithKZ, CipherECC256ViaSymmetric:
	default:
		return nil, nil, errors.Wrapf(domain.ErrUnsupported, "content key cipher type %d", ck.CipherType)
	}
	decrypted, err := crypto.DecryptECC256(encryptionKey, ck.EncryptedKey)
	if err != nil {
		return nil, nil, domain.Malformed(err, "content key")
	}
	ci, key := decrypted[:16], decrypted[16:32]
	if !scalable {
		return ci, key, nil
	}

	ci, key = make([]byte, 0, 16), make([]byte, 0, 16)
	for i, b := range decrypted {
		if i%2 == 0 {
			ci = append(ci, b)
		} else {
			key = append(key, b)
		}
	}
	ci, key = ci[:16], key[:16]
	if ck.CipherType != CipherECC256ViaSymmetric {
		return ci, key, nil
	}
	return uplinkKeys(lic, key, ck.EncryptedKey)
}

// uplinkKeys undoes the symmetric wrapping of a scalable leaf license. The
// order of the ECB steps is significant.
func uplinkKeys(lic *License, ck, encryptedKey []byte) ([]byte, []byte, error) {
	if len(encryptedKey) < 144+32 {
		return nil, nil, domain.Malformed(errors.New("short embedded license"), "content key")
	}
	aux := lic.AuxKeys()
	if len(aux) == 0 {
		return nil, nil, errors.Wrap(domain.ErrInvalidLicense, "scalable license without auxiliary keys")
	}
	root, leaf := encryptedKey[:144], encryptedKey[144:]

	rgbKey := make([]byte, 16)
	for i := range rgbKey {
		rgbKey[i] = ck[i] ^ RgbMagicConstantZero[i]
	}
	ckPrime, err := crypto.EncryptECB(ck, rgbKey)
	if err != nil {
		return nil, nil, err
	}
	uplinkX, err := crypto.EncryptECB(ckPrime, aux[0].Key)
	if err != nil {
		return nil, nil, err
	}
	secondary, err := crypto.EncryptECB(ck, root[128:])
	if err != nil {
		return nil, nil, err
	}
	leaf, err = crypto.EncryptECB(uplinkX, leaf)
	if err != nil {
		return nil, nil, err
	}
	leaf, err = crypto.EncryptECB(secondary, leaf)
	if err != nil {
		return nil, nil, err
	}
	return leaf[:16], leaf[16:32], nil
}

// SwapGUID converts a little-endian GUID to big-endian UUID byte order.
func SwapGUID(b []byte) []byte {
	if len(b) != 16 {
		return append([]byte(nil), b...)
	}
	return []byte{
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15],
	}
}

func findAll(root *etree.Element, tag string) []*etree.Element {
	if root == nil {
		return nil
	}
	var out []*etree.Element
	if root.Tag == tag {
		out = append(out, root)
	}
	for _, child := range root.ChildElements() {
		out = append(out, findAll(child, tag)...)
	}
	return out
}

func findFirst(root *etree.Element, tag string) *etree.Element {
	all := findAll(root, tag)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}
