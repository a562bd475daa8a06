package playready

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
)

// Session is one PlayReady license exchange.
type Session struct {
	cdm          *Cdm
	id           string
	sessionType  domain.SessionType
	initData     []byte
	initDataType string
	keys         []domain.Key
	closed       bool
	log          logrus.FieldLogger
}

var _ domain.EngineSession = (*Session)(nil)

// ID implements domain.EngineSession.
func (s *Session) ID() string { return s.id }

// Type implements domain.EngineSession.
func (s *Session) Type() domain.SessionType { return s.sessionType }

// Keys implements domain.EngineSession.
func (s *Session) Keys() []domain.Key { return append([]domain.Key(nil), s.keys...) }

// GenerateRequest builds a license challenge for the first WRM header in
// initData.
func (s *Session) GenerateRequest(_ context.Context, initDataType string, initData []byte) (domain.Message, error) {
	if s.closed {
		return domain.Message{}, errors.Wrap(domain.ErrInvalidSession, "session is closed")
	}
	pssh, err := ParsePssh(initData)
	if err != nil {
		return domain.Message{}, err
	}
	s.initData = append([]byte(nil), initData...)
	s.initDataType = initDataType

	challenge, err := s.LicenseChallenge(pssh.WRMHeaders[0], "")
	if err != nil {
		return domain.Message{}, err
	}
	s.log.WithField("protocol_version", ProtocolVersion(pssh.WRMHeaders[0])).Debug("challenge built")
	return domain.Message{Type: domain.MessageLicenseRequest, Data: []byte(challenge)}, nil
}

// LicenseChallenge builds a signed challenge for a WRM header.
func (s *Session) LicenseChallenge(wrmHeader, revLists string) (string, error) {
	chain, err := s.cdm.device.Chain.Dump()
	if err != nil {
		return "", err
	}
	return BuildChallenge(ChallengeParams{
		WRMHeader:     wrmHeader,
		RevLists:      revLists,
		ClientVersion: s.cdm.clientVersion,
		Chain:         chain,
		SigningKey:    s.cdm.device.SigningKey,
		ServerKey:     s.cdm.serverKey,
	})
}

// Update parses a license response. Keys are replaced only when every
// license in the response verified.
func (s *Session) Update(_ context.Context, response []byte) (domain.UpdateResult, error) {
	if s.closed {
		return domain.UpdateResult{}, errors.Wrap(domain.ErrInvalidSession, "session is closed")
	}
	keys, err := ParseLicenseResponse(string(response), s.cdm.device.EncryptionKey)
	if err != nil {
		s.log.WithError(err).Debug("license rejected")
		return domain.UpdateResult{}, err
	}
	s.keys = keys
	s.log.WithField("keys", len(keys)).Info("license parsed")
	return domain.UpdateResult{Keys: s.Keys()}, nil
}

// Close implements domain.EngineSession.
func (s *Session) Close(context.Context) error {
	s.closed = true
	return nil
}

// Remove implements domain.EngineSession.
func (s *Session) Remove(ctx context.Context) error {
	s.keys = nil
	return s.Close(ctx)
}

type serverKeyJSON struct {
	X string `json:"x"`
	Y string `json:"y"`
}

type pausedState struct {
	SessionID            string             `json:"sessionId"`
	SessionType          domain.SessionType `json:"sessionType"`
	InitData             string             `json:"initData,omitempty"`
	InitDataType         string             `json:"initDataType,omitempty"`
	CertificateChain     string             `json:"certificateChain"`
	EncryptionKey        string             `json:"encryptionKey"`
	SigningKey           string             `json:"signingKey"`
	ClientVersion        string             `json:"clientVersion"`
	RgbMagicConstantZero string             `json:"rgbMagicConstantZero"`
	WMRMServerKey        *serverKeyJSON     `json:"wmrmServerKey"`
	Keys                 []domain.Key       `json:"keys"`
}

// Pause serialises the session. Key material is limited to public keys;
// resuming requires the same device.
func (s *Session) Pause(context.Context) ([]byte, error) {
	chain, err := s.cdm.device.Chain.Dump()
	if err != nil {
		return nil, err
	}
	st := pausedState{
		SessionID:            s.id,
		SessionType:          s.sessionType,
		InitDataType:         s.initDataType,
		CertificateChain:     crypto.B64(chain),
		EncryptionKey:        crypto.B64(s.cdm.device.EncryptionKey.PublicBytes()),
		SigningKey:           crypto.B64(s.cdm.device.SigningKey.PublicBytes()),
		ClientVersion:        s.cdm.clientVersion,
		RgbMagicConstantZero: crypto.B64(RgbMagicConstantZero),
		Keys:                 s.Keys(),
	}
	if s.initData != nil {
		st.InitData = crypto.B64(s.initData)
	}
	st.WMRMServerKey = &serverKeyJSON{X: s.cdm.serverKey.X.String(), Y: s.cdm.serverKey.Y.String()}
	if st.Keys == nil {
		st.Keys = []domain.Key{}
	}
	return json.Marshal(st)
}

// ResumeSession implements domain.Cdm. The blob must have been paused on a
// session of this device.
func (c *Cdm) ResumeSession(_ context.Context, state []byte) (domain.EngineSession, error) {
	var st pausedState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: %v", err)
	}
	switch {
	case st.SessionID == "":
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: missing sessionId")
	case st.SessionType == "":
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: missing sessionType")
	case st.EncryptionKey == "" || st.SigningKey == "":
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: missing device keys")
	case st.Keys == nil:
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: missing keys")
	}
	if !st.SessionType.Valid() {
		return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: session type %q", st.SessionType)
	}
	enc, _ := base64.StdEncoding.DecodeString(st.EncryptionKey)
	sig, _ := base64.StdEncoding.DecodeString(st.SigningKey)
	if !bytes.Equal(enc, c.device.EncryptionKey.PublicBytes()) || !bytes.Equal(sig, c.device.SigningKey.PublicBytes()) {
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: state belongs to another device")
	}

	s := c.newSession(st.SessionID, st.SessionType)
	s.initDataType = st.InitDataType
	if st.InitData != "" {
		raw, err := base64.StdEncoding.DecodeString(st.InitData)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: initData: %v", err)
		}
		s.initData = raw
	}
	s.keys = st.Keys
	s.log.Info("session resumed")
	return s, nil
}
