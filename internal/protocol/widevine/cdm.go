package widevine

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// Cdm opens Widevine sessions for one device.
type Cdm struct {
	device      *Device
	privacyMode bool
	rootKey     *rsa.PublicKey
	now         func() time.Time
	log         logrus.FieldLogger
}

var _ domain.Cdm = (*Cdm)(nil)

// Option configures a Cdm.
type Option func(*Cdm)

// WithPrivacyMode makes every session fetch a service certificate before
// its first license request and send the client id encrypted.
func WithPrivacyMode(on bool) Option {
	return func(c *Cdm) { c.privacyMode = on }
}

// WithServiceRootKey sets the key service certificates must be signed by.
// Without it a Cdm refuses every service certificate, so privacy mode
// needs this option.
func WithServiceRootKey(pub *rsa.PublicKey) Option {
	return func(c *Cdm) { c.rootKey = pub }
}

// WithClock replaces time.Now for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cdm) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cdm) { c.log = l }
}

// New constructs a Cdm for device.
func New(device *Device, opts ...Option) *Cdm {
	c := &Cdm{
		device: device,
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "widevine")
	return c
}

// KeySystem implements domain.Cdm.
func (c *Cdm) KeySystem() domain.KeySystem { return domain.KeySystemWidevine }

// Device returns the loaded identity.
func (c *Cdm) Device() *Device { return c.device }

// CreateSession implements domain.Cdm.
func (c *Cdm) CreateSession(_ context.Context, sessionType domain.SessionType) (domain.EngineSession, error) {
	if !sessionType.Valid() {
		return nil, errors.Wrapf(domain.ErrUnsupported, "session type %q", sessionType)
	}
	id, err := newSessionID(c.device.Type)
	if err != nil {
		return nil, err
	}
	s := c.newSession(id, sessionType)
	s.log.Info("session created")
	return s, nil
}

// newSessionID returns base64 random bytes for chrome devices and, for
// android, 16 random hex digits, a two digit counter and 14 zeros.
func newSessionID(t DeviceType) (string, error) {
	if t == DeviceChrome {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		return crypto.B64(b), nil
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)) + "01" + strings.Repeat("0", 14), nil
}

func (c *Cdm) newSession(id string, sessionType domain.SessionType) *Session {
	return &Session{
		cdm:         c,
		id:          id,
		sessionType: sessionType,
		contexts:    map[string]requestContext{},
		log:         c.log.WithField("session", id),
	}
}
