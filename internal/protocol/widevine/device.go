package widevine

import (
	"crypto/rsa"
	"encoding/pem"
	"fmt"

	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"

	"cdmkit/internal/codec"
	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// DeviceType selects the session id shape and is recorded in WVD files.
type DeviceType uint8

const (
	DeviceChrome  DeviceType = 1
	DeviceAndroid DeviceType = 2
)

func (t DeviceType) String() string {
	switch t {
	case DeviceChrome:
		return "chrome"
	case DeviceAndroid:
		return "android"
	}
	return fmt.Sprintf("DeviceType(%d)", uint8(t))
}

var (
	wvdV1 = codec.Struct(
		codec.F("private_key_len", codec.Uint16),
		codec.F("private_key", codec.Bytes(codec.Ref("private_key_len"))),
		codec.F("client_id_len", codec.Uint16),
		codec.F("client_id", codec.Bytes(codec.Ref("client_id_len"))),
		codec.F("vmp_len", codec.Uint16),
		codec.F("vmp", codec.Bytes(codec.Ref("vmp_len"))),
	)

	wvdV2 = codec.Struct(
		codec.F("private_key_len", codec.Uint16),
		codec.F("private_key", codec.Bytes(codec.Ref("private_key_len"))),
		codec.F("client_id_len", codec.Uint16),
		codec.F("client_id", codec.Bytes(codec.Ref("client_id_len"))),
	)

	// WVD is the Widevine device file layout.
	WVD = codec.Struct(
		codec.F("signature", codec.Const([]byte("WVD"))),
		codec.F("version", codec.Uint8),
		codec.F("type", codec.Uint8),
		codec.F("security_level", codec.Uint8),
		codec.F("flags", codec.Uint8),
		codec.F("data", codec.Switch(wvdVersion)),
	)
)

func wvdVersion(s *codec.Scope) (codec.Codec, error) {
	v, err := s.Int("version")
	if err != nil {
		return nil, err
	}
	switch v {
	case 1:
		return wvdV1, nil
	case 2:
		return wvdV2, nil
	default:
		return nil, errors.Wrapf(domain.ErrUnsupported, "wvd version %d", v)
	}
}

// Device is a Widevine client identity: a ClientIdentification whose
// token certifies the RSA key pair.
type Device struct {
	Type          DeviceType
	SecurityLevel int
	PrivateKey    *rsa.PrivateKey
	ClientID      *ClientIdentification
	Certificate   *DrmCertificate
}

// NewDevice builds a device from a serialised ClientIdentification and its
// private key. The certificate in the client id must carry the key's
// public half.
func NewDevice(t DeviceType, securityLevel int, clientID []byte, key *rsa.PrivateKey) (*Device, error) {
	id, err := UnmarshalClientIdentification(clientID)
	if err != nil {
		return nil, err
	}
	d := &Device{Type: t, SecurityLevel: securityLevel, PrivateKey: key, ClientID: id}
	if len(id.Token) > 0 {
		signed, err := UnmarshalSignedDrmCertificate(id.Token)
		if err != nil {
			return nil, errors.WithMessage(err, "client token")
		}
		if d.Certificate, err = UnmarshalDrmCertificate(signed.DrmCertificate); err != nil {
			return nil, errors.WithMessage(err, "client token")
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadDevice parses a WVD file.
func LoadDevice(data []byte) (*Device, error) {
	v, _, err := codec.Decode(WVD, data)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupported) {
			return nil, err
		}
		return nil, domain.Malformed(err, "wvd")
	}
	root := v.(*ordereddict.Dict)
	body := codec.GetDict(root, "data")
	typ, _ := codec.GetUint(root, "type")
	level, _ := codec.GetUint(root, "security_level")

	key, err := crypto.ParseRSAPrivateKey(codec.GetBytes(body, "private_key"))
	if err != nil {
		return nil, err
	}
	return NewDevice(DeviceType(typ), int(level), codec.GetBytes(body, "client_id"), key)
}

// LoadUnpacked builds an android L3 device from a client id blob and a PEM
// or DER private key.
func LoadUnpacked(clientID, privateKey []byte) (*Device, error) {
	key, err := crypto.ParseRSAPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return NewDevice(DeviceAndroid, 3, clientID, key)
}

// Validate checks that the client certificate names the device key.
func (d *Device) Validate() error {
	if d.PrivateKey == nil {
		return errors.Wrap(crypto.ErrInvalidKey, "device has no private key")
	}
	if d.Certificate == nil || len(d.Certificate.PublicKey) == 0 {
		return nil
	}
	pub, err := crypto.ParseRSAPublicKey(d.Certificate.PublicKey)
	if err != nil {
		return &domain.CertificateError{Index: 0, Reason: "client certificate key: " + err.Error()}
	}
	if !pub.Equal(&d.PrivateKey.PublicKey) {
		return &domain.CertificateError{Index: 0, Reason: "client certificate does not match the private key"}
	}
	return nil
}

// Dump encodes the device as WVD v2.
func (d *Device) Dump() ([]byte, error) {
	key := crypto.MarshalRSAPrivateKey(d.PrivateKey)
	return codec.Encode(WVD, ordereddict.NewDict().
		Set("signature", []byte("WVD")).
		Set("version", uint32(2)).
		Set("type", uint32(d.Type)).
		Set("security_level", uint32(d.SecurityLevel)).
		Set("flags", uint32(0)).
		Set("data", ordereddict.NewDict().
			Set("private_key_len", uint32(len(key))).
			Set("private_key", key).
			Set("client_id_len", uint32(len(d.ClientID.Raw))).
			Set("client_id", d.ClientID.Raw)))
}

// Unpack returns the client id blob and the PEM private key.
func (d *Device) Unpack() (clientID, privateKey []byte) {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: crypto.MarshalRSAPrivateKey(d.PrivateKey)}
	return append([]byte(nil), d.ClientID.Raw...), pem.EncodeToMemory(block)
}

// SystemID is the system id of the client certificate, or 0.
func (d *Device) SystemID() uint32 {
	if d.Certificate == nil {
		return 0
	}
	return d.Certificate.SystemID
}

// Name is "<company>_<model>", used for file names.
func (d *Device) Name() string {
	return d.ClientID.Info("company_name") + "_" + d.ClientID.Info("model_name")
}

// Label is "<company> <model>".
func (d *Device) Label() string {
	return d.ClientID.Info("company_name") + " " + d.ClientID.Info("model_name")
}

func (d *Device) String() string {
	return fmt.Sprintf("%d L%d", d.SystemID(), d.SecurityLevel)
}
