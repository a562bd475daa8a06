package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
)

var errClosed = errors.Wrap(domain.ErrInvalidSession, "session is closed")

// State is a Session's position in the license exchange.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateKeyed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateKeyed:
		return "keyed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Service opens sessions on one Cdm and, when a StateStore is configured,
// parks paused sessions in it.
type Service struct {
	cdm    domain.Cdm
	states domain.StateStore
	log    logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithStateStore enables Save and Restore.
func WithStateStore(st domain.StateStore) Option {
	return func(s *Service) { s.states = st }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// New constructs a Service for cdm.
func New(cdm domain.Cdm, opts ...Option) *Service {
	s := &Service{cdm: cdm, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "session", "key_system": cdm.KeySystem()})
	return s
}

// Cdm returns the underlying engine.
func (s *Service) Cdm() domain.Cdm { return s.cdm }

// Create opens a new session.
func (s *Service) Create(ctx context.Context, sessionType domain.SessionType) (*Session, error) {
	engine, err := s.cdm.CreateSession(ctx, sessionType)
	if err != nil {
		return nil, err
	}
	return newSession(engine, StateIdle, s.log), nil
}

// Resume restores a paused session. A session that already holds keys
// resumes keyed; any other resumes awaiting a response.
func (s *Service) Resume(ctx context.Context, state []byte) (*Session, error) {
	engine, err := s.cdm.ResumeSession(ctx, state)
	if err != nil {
		return nil, err
	}
	st := StateAwaitingResponse
	if len(engine.Keys()) > 0 {
		st = StateKeyed
	}
	return newSession(engine, st, s.log), nil
}

// Save pauses sess into the state store under its id.
func (s *Service) Save(ctx context.Context, sess *Session) error {
	if s.states == nil {
		return errors.Wrap(domain.ErrUnsupported, "no state store configured")
	}
	state, err := sess.Pause(ctx)
	if err != nil {
		return err
	}
	return s.states.SaveState(ctx, sess.ID(), state)
}

// Restore resumes a session saved with Save.
func (s *Service) Restore(ctx context.Context, id string) (*Session, error) {
	if s.states == nil {
		return nil, errors.Wrap(domain.ErrUnsupported, "no state store configured")
	}
	state, ok, err := s.states.LoadState(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidSession, "no saved state for session %q", id)
	}
	return s.Resume(ctx, state)
}

// Forget deletes saved state.
func (s *Service) Forget(ctx context.Context, id string) error {
	if s.states == nil {
		return nil
	}
	return s.states.DeleteState(ctx, id)
}

// Session wraps an engine session with the shared state machine:
// idle -> awaiting-response -> keyed -> closed. The license request and
// the key set are published as futures so another goroutine can wait for
// them.
type Session struct {
	engine domain.EngineSession
	log    logrus.FieldLogger

	mu      sync.Mutex
	state   State
	request *future[domain.Message]
	keys    *future[[]domain.Key]
	closed  chan struct{}
}

func newSession(engine domain.EngineSession, st State, log logrus.FieldLogger) *Session {
	s := &Session{
		engine:  engine,
		log:     log.WithField("session", engine.ID()),
		state:   st,
		request: newFuture[domain.Message](),
		keys:    newFuture[[]domain.Key](),
		closed:  make(chan struct{}),
	}
	if st == StateKeyed {
		s.keys.resolve(engine.Keys())
	}
	return s
}

// ID is the engine's session id.
func (s *Session) ID() string { return s.engine.ID() }

// Type is the session type.
func (s *Session) Type() domain.SessionType { return s.engine.Type() }

// Engine exposes the wrapped engine session. Calls on it bypass the
// session lock.
func (s *Session) Engine() domain.EngineSession { return s.engine }

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Keys returns the keys recovered so far.
func (s *Session) Keys() []domain.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Keys()
}

// GenerateRequest asks the engine for the first message of the exchange.
// A license request is also published to WaitForLicenseRequest; an
// individualization request is only returned, and the license request it
// defers is published by Update.
func (s *Session) GenerateRequest(ctx context.Context, initDataType string, initData []byte) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return domain.Message{}, errClosed
	}
	if initDataType == "" {
		initDataType = "cenc"
	}
	msg, err := s.engine.GenerateRequest(ctx, initDataType, initData)
	if err != nil {
		return domain.Message{}, err
	}
	s.state = StateAwaitingResponse
	s.publish(msg)
	return msg, nil
}

func (s *Session) publish(msg domain.Message) {
	if msg.Type != domain.MessageLicenseRequest {
		s.log.WithField("type", msg.Type).Debug("side channel message")
		return
	}
	s.request.resolve(msg)
}

// Update feeds a server response to the engine. Keys move the session to
// keyed and release WaitForKeys.
func (s *Session) Update(ctx context.Context, response []byte) (domain.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		return domain.UpdateResult{}, errors.Wrap(domain.ErrInvalidSession, "update before generateRequest")
	case StateClosed:
		return domain.UpdateResult{}, errClosed
	}
	res, err := s.engine.Update(ctx, response)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	if res.Message != nil {
		s.publish(*res.Message)
	}
	if keys := s.engine.Keys(); len(keys) > 0 {
		s.state = StateKeyed
		s.keys.resolve(keys)
		s.log.WithField("keys", len(keys)).Debug("keys available")
	}
	return res, nil
}

// WaitForLicenseRequest blocks until a license request has been produced.
func (s *Session) WaitForLicenseRequest(ctx context.Context) (domain.Message, error) {
	return s.request.wait(ctx, s.closed)
}

// WaitForKeys blocks until keys are available and returns them at once
// when they already are.
func (s *Session) WaitForKeys(ctx context.Context) ([]domain.Key, error) {
	return s.keys.wait(ctx, s.closed)
}

// Close ends the session. It is idempotent and releases waiters.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(ctx, false)
}

// Remove closes the session and drops its keys.
func (s *Session) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(ctx, true)
}

func (s *Session) closeLocked(ctx context.Context, remove bool) error {
	var err error
	if remove {
		err = s.engine.Remove(ctx)
	} else if s.state != StateClosed {
		err = s.engine.Close(ctx)
	}
	if s.state != StateClosed {
		s.state = StateClosed
		close(s.closed)
		s.log.Debug("session closed")
	}
	return err
}

// Pause serialises the engine session.
func (s *Session) Pause(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Pause(ctx)
}
