package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
)

// Error is a non-2xx answer from a remote CDM server.
type Error struct {
	Method  string
	URL     string
	Status  int
	Message string
	Kind    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.Status, e.Message)
}

// Unwrap maps the reported kind back to its domain sentinel.
func (e *Error) Unwrap() error { return domain.KindError(e.Kind) }

// Cdm is a domain.Cdm whose sessions live on a remote server.
type Cdm struct {
	base      string
	secret    string
	client    string
	keySystem domain.KeySystem
	http      *http.Client
	log       logrus.FieldLogger
}

var _ domain.Cdm = (*Cdm)(nil)

// Option configures a Cdm.
type Option func(*Cdm)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Cdm) {
		if c != nil {
			r.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Cdm) { r.log = l }
}

// Dial looks up device on the server at base and returns a Cdm for it.
func Dial(ctx context.Context, base, secret, device string, opts ...Option) (*Cdm, error) {
	r := &Cdm{
		base:   strings.TrimRight(base, "/"),
		secret: secret,
		client: device,
		http:   http.DefaultClient,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithFields(logrus.Fields{"component": "remote", "device": device})

	devices, err := r.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == device {
			r.keySystem = d.KeySystem
			return r, nil
		}
	}
	return nil, errors.Errorf("remote: device %q not available to this secret", device)
}

// KeySystem implements domain.Cdm.
func (r *Cdm) KeySystem() domain.KeySystem { return r.keySystem }

// Devices lists the devices the secret may use.
func (r *Cdm) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	err := r.do(ctx, http.MethodGet, "/devices", nil, &out)
	return out, err
}

// CreateSession implements domain.Cdm.
func (r *Cdm) CreateSession(ctx context.Context, sessionType domain.SessionType) (domain.EngineSession, error) {
	var resp SessionResponse
	req := CreateSessionRequest{SessionType: sessionType, Client: r.client}
	if err := r.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, err
	}
	r.log.WithField("session", resp.ID).Debug("remote session created")
	return &Session{cdm: r, id: resp.ID, sessionType: sessionType}, nil
}

// ResumeSession implements domain.Cdm. The server restores the session
// from state under a possibly new id.
func (r *Cdm) ResumeSession(ctx context.Context, state []byte) (domain.EngineSession, error) {
	var resp SessionResponse
	req := ResumeRequest{State: string(state), Client: r.client}
	if err := r.do(ctx, http.MethodPost, "/sessions/resume", req, &resp); err != nil {
		return nil, err
	}
	s := &Session{cdm: r, id: resp.ID, sessionType: resp.Type}
	// keys are only reported by update; pick up any the state carried
	if keys, err := s.FetchKeys(ctx); err == nil {
		s.keys = keys
	}
	return s, nil
}

func (r *Cdm) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	target := r.base + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set(SecretHeader, r.secret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, target)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Method: method, URL: target, Status: resp.StatusCode, Message: e.Error, Kind: e.Kind}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decode %s %s", method, target)
}

// Session is one session on the remote server.
type Session struct {
	cdm         *Cdm
	id          string
	sessionType domain.SessionType
	keys        []domain.Key
	closed      bool
	removed     bool
}

var _ domain.EngineSession = (*Session)(nil)

// ID implements domain.EngineSession.
func (s *Session) ID() string { return s.id }

// Type implements domain.EngineSession.
func (s *Session) Type() domain.SessionType { return s.sessionType }

// Keys returns the keys reported by the last update.
func (s *Session) Keys() []domain.Key { return append([]domain.Key(nil), s.keys...) }

func (s *Session) path(suffix string) string { return "/sessions/" + url.PathEscape(s.id) + suffix }

// GenerateRequest implements domain.EngineSession.
func (s *Session) GenerateRequest(ctx context.Context, initDataType string, initData []byte) (domain.Message, error) {
	var resp MessageResponse
	req := GenerateRequestRequest{InitDataType: initDataType, InitData: initData}
	if err := s.cdm.do(ctx, http.MethodPost, s.path("/generate-request"), req, &resp); err != nil {
		return domain.Message{}, err
	}
	return toMessage(resp), nil
}

func toMessage(m MessageResponse) domain.Message {
	t := m.Type
	if t == "" {
		t = domain.MessageLicenseRequest
	}
	return domain.Message{Type: t, Data: m.LicenseRequest}
}

// Update implements domain.EngineSession.
func (s *Session) Update(ctx context.Context, response []byte) (domain.UpdateResult, error) {
	var resp UpdateResponse
	if err := s.cdm.do(ctx, http.MethodPost, s.path("/update"), UpdateRequest{Response: response}, &resp); err != nil {
		return domain.UpdateResult{}, err
	}
	s.keys = resp.Keys
	res := domain.UpdateResult{Keys: s.Keys()}
	if resp.Message != nil {
		msg := toMessage(*resp.Message)
		res.Message = &msg
	}
	return res, nil
}

// FetchKeys asks the server for the session's keys.
func (s *Session) FetchKeys(ctx context.Context) ([]domain.Key, error) {
	var keys []domain.Key
	err := s.cdm.do(ctx, http.MethodGet, s.path("/keys"), nil, &keys)
	return keys, err
}

// Close implements domain.EngineSession.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	if err := s.cdm.do(ctx, http.MethodPost, s.path("/close"), nil, nil); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// Remove implements domain.EngineSession. The server forgets the session.
func (s *Session) Remove(ctx context.Context) error {
	if s.removed {
		return nil
	}
	if err := s.cdm.do(ctx, http.MethodDelete, s.path(""), nil, nil); err != nil {
		return err
	}
	s.keys = nil
	s.closed, s.removed = true, true
	return nil
}

// Pause implements domain.EngineSession.
func (s *Session) Pause(ctx context.Context) ([]byte, error) {
	var resp PauseResponse
	if err := s.cdm.do(ctx, http.MethodPost, s.path("/pause"), nil, &resp); err != nil {
		return nil, err
	}
	return []byte(resp.State), nil
}
