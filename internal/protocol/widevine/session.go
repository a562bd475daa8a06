package widevine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/crypto"
	"cdmkit/internal/domain"
	"cdmkit/internal/util/memzero"
)

// Session is one Widevine license exchange. Contexts hold the derivation
// inputs of requests still waiting for a license, keyed by request id.
type Session struct {
	cdm          *Cdm
	id           string
	sessionType  domain.SessionType
	initData     []byte
	initDataType string

	serviceCert           *ServiceCertificate
	individualizationSent bool
	contexts              map[string]requestContext

	keys   []domain.Key
	closed bool
	log    logrus.FieldLogger
}

var _ domain.EngineSession = (*Session)(nil)

// ID implements domain.EngineSession.
func (s *Session) ID() string { return s.id }

// Type implements domain.EngineSession.
func (s *Session) Type() domain.SessionType { return s.sessionType }

// Keys implements domain.EngineSession.
func (s *Session) Keys() []domain.Key { return append([]domain.Key(nil), s.keys...) }

// PendingRequests is the number of requests awaiting a license.
func (s *Session) PendingRequests() int { return len(s.contexts) }

// GenerateRequest builds a signed license request. In privacy mode the
// first call instead returns a service certificate request; the license
// request follows from Update once the certificate arrives.
func (s *Session) GenerateRequest(_ context.Context, initDataType string, initData []byte) (domain.Message, error) {
	if s.closed {
		return domain.Message{}, errors.Wrap(domain.ErrInvalidSession, "session is closed")
	}
	if s.cdm.privacyMode && s.serviceCert == nil && !s.individualizationSent {
		s.initData = append([]byte(nil), initData...)
		s.initDataType = initDataType
		s.individualizationSent = true
		s.log.Debug("requesting service certificate")
		return domain.Message{
			Type: domain.MessageIndividualizationRequest,
			Data: append([]byte(nil), ServiceCertificateRequest...),
		}, nil
	}

	pssh, err := ParsePssh(initData)
	if err != nil {
		return domain.Message{}, err
	}
	s.initData = append([]byte(nil), initData...)
	s.initDataType = initDataType

	requestID := []byte(s.id)
	req := &LicenseRequest{
		ContentID: ContentIdentification{
			PsshData:    [][]byte{pssh.Raw},
			LicenseType: LicenseStreaming,
			RequestID:   requestID,
		},
		Type:            RequestNew,
		RequestTime:     s.cdm.now().Unix(),
		ProtocolVersion: ProtocolVersion21,
	}
	if s.sessionType == domain.SessionPersistent {
		req.ContentID.LicenseType = LicenseOffline
	}
	if s.serviceCert != nil {
		if req.EncryptedClientID, err = s.serviceCert.EncryptClientID(s.cdm.device.ClientID.Raw); err != nil {
			return domain.Message{}, err
		}
	} else {
		req.ClientID = s.cdm.device.ClientID.Raw
	}

	body := req.Marshal()
	signature, err := crypto.SignPSS(s.cdm.device.PrivateKey, body)
	if err != nil {
		return domain.Message{}, err
	}
	enc, auth := DeriveContext(body)
	s.contexts[string(requestID)] = requestContext{Enc: enc, Auth: auth}

	s.log.WithFields(logrus.Fields{
		"request_id": string(requestID),
		"encrypted":  req.EncryptedClientID != nil,
	}).Debug("license request built")
	signed := &SignedMessage{Type: MessageLicenseRequest, Msg: body, Signature: signature}
	return domain.Message{Type: domain.MessageLicenseRequest, Data: signed.Marshal()}, nil
}

// SetServiceCertificate installs a server's privacy certificate. The
// certificate must verify against the configured root key; without one
// every certificate is rejected.
func (s *Session) SetServiceCertificate(data []byte) error {
	cert, err := ParseServiceCertificate(data)
	if err != nil {
		return err
	}
	if s.cdm.rootKey == nil {
		s.log.Warn("service certificate rejected: no root key configured")
		return errors.Wrap(domain.ErrInvalidCertificate, "no service root key configured")
	}
	if err := cert.Verify(s.cdm.rootKey); err != nil {
		return err
	}
	s.serviceCert = cert
	s.log.WithField("provider", cert.Certificate.ProviderID).Info("service certificate installed")
	return nil
}

// Update feeds a server response. A service certificate re-issues the
// deferred license request, returned in the result's Message. A license
// yields keys; the session closes once it holds any.
func (s *Session) Update(ctx context.Context, response []byte) (domain.UpdateResult, error) {
	if s.closed {
		return domain.UpdateResult{}, errors.Wrap(domain.ErrInvalidSession, "session is closed")
	}
	signed, err := UnmarshalSignedMessage(response)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	switch signed.Type {
	case MessageServiceCertificate:
		if err := s.SetServiceCertificate(response); err != nil {
			return domain.UpdateResult{}, err
		}
		if s.initData == nil {
			return domain.UpdateResult{}, nil
		}
		msg, err := s.GenerateRequest(ctx, s.initDataType, s.initData)
		if err != nil {
			return domain.UpdateResult{}, err
		}
		return domain.UpdateResult{Message: &msg}, nil
	case MessageLicense:
		keys, err := s.parseLicense(signed)
		if err != nil {
			return domain.UpdateResult{}, err
		}
		return domain.UpdateResult{Keys: keys}, nil
	case MessageErrorResponse:
		return domain.UpdateResult{}, errors.Wrap(domain.ErrInvalidLicense, "license server returned an error response")
	default:
		return domain.UpdateResult{}, errors.Wrapf(domain.ErrUnsupported, "message type %v", signed.Type)
	}
}

func (s *Session) parseLicense(signed *SignedMessage) ([]domain.Key, error) {
	license, err := UnmarshalLicense(signed.Msg)
	if err != nil {
		return nil, err
	}
	requestID := string(license.ID.RequestID)
	rc, ok := s.contexts[requestID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidSession, "no context for request id %q", requestID)
	}

	sessionKey, err := crypto.DecryptOAEP(s.cdm.device.PrivateKey, signed.SessionKey)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidLicense, "session key: %v", err)
	}
	defer memzero.Zero(sessionKey)
	derived, err := DeriveKeys(rc.Enc, rc.Auth, sessionKey)
	if err != nil {
		return nil, err
	}
	defer derived.Wipe()

	expected := crypto.HMACSHA256(derived.MacServer, signed.OemcryptoCoreMessage, signed.Msg)
	if !crypto.Equal(expected, signed.Signature) {
		s.log.WithFields(logrus.Fields{
			"calculated": hex.EncodeToString(expected),
			"actual":     hex.EncodeToString(signed.Signature),
		}).Debug("license signature mismatch")
		return nil, errors.Wrap(domain.ErrInvalidSignature, "signature mismatch on license message")
	}

	var keys []domain.Key
	for _, kc := range license.Keys {
		if len(kc.Key) == 0 || len(kc.IV) == 0 || len(kc.ID) == 0 {
			continue
		}
		value, err := crypto.DecryptCBC(derived.Enc, kc.IV, kc.Key)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidLicense, "key %x: %v", kc.ID, err)
		}
		keys = append(keys, domain.Key{
			ID:            kc.ID,
			Value:         value,
			Type:          kc.Type.String(),
			SecurityLevel: kc.Level.String(),
			TrackLabel:    kc.TrackLabel,
			Permissions:   kc.Permissions.Names(),
		})
	}

	delete(s.contexts, requestID)
	s.addKeys(keys)
	s.log.WithField("keys", len(keys)).Info("license parsed")
	if len(s.keys) > 0 {
		s.closed = true
	}
	return keys, nil
}

func (s *Session) addKeys(keys []domain.Key) {
	for _, k := range keys {
		replaced := false
		for i := range s.keys {
			if bytes.Equal(s.keys[i].ID, k.ID) {
				s.keys[i] = k
				replaced = true
				break
			}
		}
		if !replaced {
			s.keys = append(s.keys, k)
		}
	}
}

// Close implements domain.EngineSession.
func (s *Session) Close(context.Context) error {
	s.closed = true
	return nil
}

// Remove implements domain.EngineSession. Pending contexts and keys are
// discarded.
func (s *Session) Remove(ctx context.Context) error {
	for _, rc := range s.contexts {
		memzero.Zero(rc.Enc, rc.Auth)
	}
	s.contexts = map[string]requestContext{}
	s.keys = nil
	return s.Close(ctx)
}

type contextJSON struct {
	Enc  string `json:"enc"`
	Auth string `json:"auth"`
}

type pausedState struct {
	SessionID             string                 `json:"sessionId"`
	SessionType           domain.SessionType     `json:"sessionType"`
	InitData              string                 `json:"initData,omitempty"`
	InitDataType          string                 `json:"initDataType,omitempty"`
	IndividualizationSent bool                   `json:"individualizationSent"`
	ServiceCertificate    string                 `json:"serviceCertificate,omitempty"`
	Contexts              map[string]contextJSON `json:"contexts"`
	Keys                  []domain.Key           `json:"keys"`
	Closed                bool                   `json:"closed,omitempty"`
}

// Pause serialises everything needed to finish the exchange later:
// pending contexts, the service certificate and the keys.
func (s *Session) Pause(context.Context) ([]byte, error) {
	st := pausedState{
		SessionID:             s.id,
		SessionType:           s.sessionType,
		InitDataType:          s.initDataType,
		IndividualizationSent: s.individualizationSent,
		Contexts:              make(map[string]contextJSON, len(s.contexts)),
		Keys:                  s.Keys(),
		Closed:                s.closed,
	}
	if s.initData != nil {
		st.InitData = crypto.B64(s.initData)
	}
	if s.serviceCert != nil {
		st.ServiceCertificate = crypto.B64(s.serviceCert.Signed.Marshal())
	}
	for id, rc := range s.contexts {
		st.Contexts[id] = contextJSON{Enc: crypto.B64(rc.Enc), Auth: crypto.B64(rc.Auth)}
	}
	if st.Keys == nil {
		st.Keys = []domain.Key{}
	}
	return json.Marshal(st)
}

// ResumeSession implements domain.Cdm. Missing required fields fail the
// resume rather than yielding a session that derives wrong keys.
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
	case st.Contexts == nil:
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: missing contexts")
	case st.Keys == nil:
		return nil, errors.Wrap(domain.ErrInvalidSession, "resume: missing keys")
	}
	if !st.SessionType.Valid() {
		return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: session type %q", st.SessionType)
	}

	s := c.newSession(st.SessionID, st.SessionType)
	s.initDataType = st.InitDataType
	s.individualizationSent = st.IndividualizationSent
	s.closed = st.Closed
	s.keys = st.Keys
	if st.InitData != "" {
		raw, err := base64.StdEncoding.DecodeString(st.InitData)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: initData: %v", err)
		}
		s.initData = raw
	}
	if st.ServiceCertificate != "" {
		raw, err := base64.StdEncoding.DecodeString(st.ServiceCertificate)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: serviceCertificate: %v", err)
		}
		if s.serviceCert, err = ParseServiceCertificate(raw); err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: serviceCertificate: %v", err)
		}
	}
	for id, cj := range st.Contexts {
		enc, err1 := base64.StdEncoding.DecodeString(cj.Enc)
		auth, err2 := base64.StdEncoding.DecodeString(cj.Auth)
		if err1 != nil || err2 != nil || len(enc) == 0 || len(auth) == 0 {
			return nil, errors.Wrapf(domain.ErrInvalidSession, "resume: context %q is incomplete", id)
		}
		s.contexts[id] = requestContext{Enc: enc, Auth: auth}
	}
	s.log.WithField("pending", len(s.contexts)).Info("session resumed")
	return s, nil
}
