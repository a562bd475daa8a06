package app

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
	"cdmkit/internal/protocol/widevine"
)

// Device is a loaded device and the engine built over it. Exactly one of
// Widevine and PlayReady is set.
type Device struct {
	Name          string
	SecurityLevel uint32
	Cdm           domain.Cdm
	Widevine      *widevine.Device
	PlayReady     *playready.Device
}

// Label describes the device for humans.
func (d *Device) Label() string {
	if d.Widevine != nil {
		return d.Widevine.Label()
	}
	return d.PlayReady.Name()
}

// Fingerprint identifies the device's public keys.
func (d *Device) Fingerprint() string {
	if d.Widevine != nil {
		return crypto.Fingerprint(x509.MarshalPKCS1PublicKey(&d.Widevine.PrivateKey.PublicKey))
	}
	return crypto.Fingerprint(d.PlayReady.SigningKey.PublicBytes(), d.PlayReady.EncryptionKey.PublicBytes())
}

// OpenDevice loads the device file at path. The format is chosen by its
// magic: "WVD" for Widevine, "PRD" for PlayReady.
func OpenDevice(cfg Config, path string, log logrus.FieldLogger) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewDevice(cfg, name, data, log)
}

// NewDevice builds a Device from device file contents.
func NewDevice(cfg Config, name string, data []byte, log logrus.FieldLogger) (*Device, error) {
	switch {
	case bytes.HasPrefix(data, []byte("WVD")):
		wv, err := widevine.LoadDevice(data)
		if err != nil {
			return nil, errors.WithMessage(err, "load widevine device")
		}
		return widevineDevice(cfg, name, wv, log)
	case bytes.HasPrefix(data, []byte("PRD")):
		var opts []playready.ChainOption
		if cfg.PlayReadyRoot != "" {
			root, err := hex.DecodeString(cfg.PlayReadyRoot)
			if err != nil {
				return nil, errors.Wrap(err, "playready root key")
			}
			opts = append(opts, playready.WithRootKey(root))
		}
		pr, err := playready.LoadDevice(data, opts...)
		if err != nil {
			return nil, errors.WithMessage(err, "load playready device")
		}
		return playreadyDevice(cfg, name, pr, log), nil
	}
	return nil, errors.Wrap(domain.ErrUnsupported, "device file is neither WVD nor PRD")
}

// OpenUnpacked builds a Widevine device from a client id blob and a
// private key file.
func OpenUnpacked(cfg Config, clientIDPath, keyPath string, log logrus.FieldLogger) (*Device, error) {
	clientID, err := os.ReadFile(clientIDPath)
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	wv, err := widevine.LoadUnpacked(clientID, key)
	if err != nil {
		return nil, err
	}
	return widevineDevice(cfg, wv.Name(), wv, log)
}

func widevineDevice(cfg Config, name string, wv *widevine.Device, log logrus.FieldLogger) (*Device, error) {
	opts := []widevine.Option{widevine.WithLogger(log), widevine.WithPrivacyMode(cfg.PrivacyMode)}
	if cfg.ServiceRootKey != "" {
		raw, err := os.ReadFile(cfg.ServiceRootKey)
		if err != nil {
			return nil, err
		}
		pub, err := crypto.ParseRSAPublicKey(raw)
		if err != nil {
			return nil, errors.WithMessage(err, "service root key")
		}
		opts = append(opts, widevine.WithServiceRootKey(pub))
	} else if cfg.PrivacyMode {
		log.WithField("device", name).Warn("privacy mode without a service root key, service certificates will be rejected")
	}
	return &Device{
		Name:          name,
		SecurityLevel: uint32(wv.SecurityLevel),
		Cdm:           widevine.New(wv, opts...),
		Widevine:      wv,
	}, nil
}

func playreadyDevice(cfg Config, name string, pr *playready.Device, log logrus.FieldLogger) *Device {
	return &Device{
		Name:          name,
		SecurityLevel: pr.SecurityLevel(),
		Cdm:           playready.New(pr, playready.WithLogger(log), playready.WithClientVersion(cfg.ClientVersion)),
		PlayReady:     pr,
	}
}
