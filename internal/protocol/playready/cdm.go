package playready

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// Cdm opens PlayReady sessions for one device.
type Cdm struct {
	device        *Device
	clientVersion string
	serverKey     crypto.Point
	log           logrus.FieldLogger
}

var _ domain.Cdm = (*Cdm)(nil)

// Option configures a Cdm.
type Option func(*Cdm)

// WithClientVersion overrides the reported client version.
func WithClientVersion(v string) Option {
	return func(c *Cdm) {
		if v != "" {
			c.clientVersion = v
		}
	}
}

// WithServerKey replaces the WMRM server key challenges are encrypted to.
func WithServerKey(p crypto.Point) Option {
	return func(c *Cdm) { c.serverKey = p }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cdm) { c.log = l }
}

// New constructs a Cdm for device.
func New(device *Device, opts ...Option) *Cdm {
	c := &Cdm{
		device:        device,
		clientVersion: DefaultClientVersion,
		serverKey:     WMRMServerKey,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "playready")
	return c
}

// KeySystem implements domain.Cdm.
func (c *Cdm) KeySystem() domain.KeySystem { return domain.KeySystemPlayReady }

// Device returns the loaded identity.
func (c *Cdm) Device() *Device { return c.device }

// CreateSession implements domain.Cdm.
func (c *Cdm) CreateSession(_ context.Context, sessionType domain.SessionType) (domain.EngineSession, error) {
	if !sessionType.Valid() {
		return nil, errors.Wrapf(domain.ErrUnsupported, "session type %q", sessionType)
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	s := c.newSession(hex.EncodeToString(id), sessionType)
	s.log.Info("session created")
	return s, nil
}

func (c *Cdm) newSession(id string, sessionType domain.SessionType) *Session {
	return &Session{
		cdm:         c,
		id:          id,
		sessionType: sessionType,
		log:         c.log.WithField("session", id),
	}
}
