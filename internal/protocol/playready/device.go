package playready

import (
	"bytes"
	"crypto/rand"

	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"

	"cdmkit/internal/codec"
	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

var (
	prdV2 = codec.Struct(
		codec.F("group_certificate_length", codec.Uint32),
		codec.F("group_certificate", codec.Bytes(codec.Ref("group_certificate_length"))),
		codec.F("encryption_key", codec.Bytes(codec.Fixed(crypto.EccDumpSize))),
		codec.F("signing_key", codec.Bytes(codec.Fixed(crypto.EccDumpSize))),
	)

	prdV3 = codec.Struct(
		codec.F("group_key", codec.Bytes(codec.Fixed(crypto.EccDumpSize))),
		codec.F("encryption_key", codec.Bytes(codec.Fixed(crypto.EccDumpSize))),
		codec.F("signing_key", codec.Bytes(codec.Fixed(crypto.EccDumpSize))),
		codec.F("group_certificate_length", codec.Uint32),
		codec.F("group_certificate", codec.Bytes(codec.Ref("group_certificate_length"))),
	)

	// PRD is the PlayReady device file layout.
	PRD = codec.Struct(
		codec.F("signature", codec.Const([]byte("PRD"))),
		codec.F("version", codec.Uint8),
		codec.F("data", codec.Switch(prdVersion)),
	)
)

func prdVersion(s *codec.Scope) (codec.Codec, error) {
	v, err := s.Int("version")
	if err != nil {
		return nil, err
	}
	switch v {
	case 2:
		return prdV2, nil
	case 3:
		return prdV3, nil
	default:
		return nil, errors.Wrapf(domain.ErrUnsupported, "prd version %d", v)
	}
}

// Device is a PlayReady client identity: three key pairs and the chain
// vouching for them.
type Device struct {
	Version       int
	GroupKey      *crypto.EccKey
	EncryptionKey *crypto.EccKey
	SigningKey    *crypto.EccKey
	Chain         *CertificateChain
}

// LoadDevice parses a PRD file. The leaf certificate must carry the
// device's own signing and encryption keys and the chain must verify.
func LoadDevice(data []byte, opts ...ChainOption) (*Device, error) {
	v, _, err := codec.Decode(PRD, data)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupported) {
			return nil, err
		}
		return nil, domain.Malformed(err, "prd")
	}
	root := v.(*ordereddict.Dict)
	version, _ := codec.GetUint(root, "version")
	body := codec.GetDict(root, "data")

	d := &Device{Version: int(version)}
	if version == 3 {
		if d.GroupKey, err = crypto.ParseEccKey(codec.GetBytes(body, "group_key")); err != nil {
			return nil, errors.WithMessage(err, "group key")
		}
	}
	if d.EncryptionKey, err = crypto.ParseEccKey(codec.GetBytes(body, "encryption_key")); err != nil {
		return nil, errors.WithMessage(err, "encryption key")
	}
	if d.SigningKey, err = crypto.ParseEccKey(codec.GetBytes(body, "signing_key")); err != nil {
		return nil, errors.WithMessage(err, "signing key")
	}
	if d.Chain, err = ParseCertificateChain(codec.GetBytes(body, "group_certificate"), opts...); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the identity invariant: the leaf certificate names this
// device's keys and the chain verifies against its root.
func (d *Device) Validate() error {
	leaf, err := d.Chain.Get(0)
	if err != nil {
		return err
	}
	if !bytes.Equal(leaf.KeyWithUsage(KeyUsageSign), d.SigningKey.PublicBytes()) {
		return &domain.CertificateError{Index: 0, Reason: "leaf signing key does not match device"}
	}
	if !bytes.Equal(leaf.KeyWithUsage(KeyUsageEncryptKey), d.EncryptionKey.PublicBytes()) {
		return &domain.CertificateError{Index: 0, Reason: "leaf encryption key does not match device"}
	}
	return d.Chain.Verify()
}

// SecurityLevel is the leaf certificate's security level.
func (d *Device) SecurityLevel() uint32 { return d.Chain.SecurityLevel() }

// Name is the leaf certificate's manufacturer/model string.
func (d *Device) Name() string { return d.Chain.Name() }

// Dump encodes the device as PRD v3. A v2 device has no group key and
// is written as v2.
func (d *Device) Dump() ([]byte, error) {
	chain, err := d.Chain.Dump()
	if err != nil {
		return nil, err
	}
	body := ordereddict.NewDict().
		Set("encryption_key", d.EncryptionKey.Dump()).
		Set("signing_key", d.SigningKey.Dump()).
		Set("group_certificate_length", uint32(len(chain))).
		Set("group_certificate", chain)
	version := uint32(2)
	if d.GroupKey != nil {
		version = 3
		body.Set("group_key", d.GroupKey.Dump())
	}
	return codec.Encode(PRD, ordereddict.NewDict().
		Set("signature", []byte("PRD")).
		Set("version", version).
		Set("data", body))
}

// Provision issues a fresh leaf certificate under the group certificate.
// An existing device leaf is replaced. The returned device has new
// signing and encryption keys and a verified chain.
func (d *Device) Provision() (*Device, error) {
	if d.GroupKey == nil {
		return nil, errors.Wrap(domain.ErrUnsupported, "provisioning needs a v3 device with a group key")
	}
	chain, err := d.Chain.Clone()
	if err != nil {
		return nil, err
	}
	if leaf, err := chain.Get(0); err == nil && leaf.CertType() == CertTypeDevice {
		if err := chain.Remove(0); err != nil {
			return nil, err
		}
	}
	return ProvisionChain(d.GroupKey, chain)
}

// ProvisionChain creates a device from a group key and its group chain.
// The new leaf is added to a copy of group; group itself is never
// modified, and the copy is returned only once it verifies.
func ProvisionChain(groupKey *crypto.EccKey, group *CertificateChain) (*Device, error) {
	signing, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, err
	}
	encryption, err := crypto.GenerateEccKey()
	if err != nil {
		return nil, err
	}
	certID := make([]byte, 16)
	clientID := make([]byte, 16)
	if _, err := rand.Read(certID); err != nil {
		return nil, err
	}
	if _, err := rand.Read(clientID); err != nil {
		return nil, err
	}
	leaf, err := NewLeafCertificate(LeafParams{
		CertID:        certID,
		SecurityLevel: group.SecurityLevel(),
		ClientID:      clientID,
		SigningKey:    signing,
		EncryptionKey: encryption,
		GroupKey:      groupKey,
		Parent:        group,
	})
	if err != nil {
		return nil, err
	}
	chain, err := group.Clone()
	if err != nil {
		return nil, err
	}
	if err := chain.Prepend(leaf); err != nil {
		return nil, err
	}
	if err := chain.Verify(); err != nil {
		return nil, err
	}
	return &Device{
		Version:       3,
		GroupKey:      groupKey,
		EncryptionKey: encryption,
		SigningKey:    signing,
		Chain:         chain,
	}, nil
}
