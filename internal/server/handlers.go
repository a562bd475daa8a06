package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
	"cdmkit/internal/remote"
	"cdmkit/internal/services/session"
)

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, remote.ErrorResponse{Error: msg})
}

// fail maps err to a status by its domain kind.
func (s *Server) fail(c *gin.Context, err error) {
	kind := domain.Kind(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMalformedInput), errors.Is(err, domain.ErrUnsupported):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSession):
		status = http.StatusConflict
	case kind != "":
		status = http.StatusUnprocessableEntity
	}
	label := kind
	if label == "" {
		label = "internal"
	}
	failures.WithLabelValues(label).Inc()
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	} else {
		s.log.WithError(err).WithField("path", c.FullPath()).Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, remote.ErrorResponse{Error: err.Error(), Kind: kind})
}

// bind decodes an optional JSON body into v.
func bind(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) session(c *gin.Context) (*entry, bool) {
	secret, _ := caller(c)
	e, ok := s.lookup(secret, c.Param("id"))
	if !ok {
		failures.WithLabelValues("not-found").Inc()
		c.AbortWithStatusJSON(http.StatusNotFound, remote.ErrorResponse{Error: "session not found", Kind: "invalid-session"})
	}
	return e, ok
}

func (s *Server) handleDevices(c *gin.Context) {
	_, user := caller(c)
	out := []remote.Device{}
	for _, name := range s.deviceNames(user) {
		d := s.devices[name]
		out = append(out, remote.Device{Name: name, KeySystem: d.Cdm.KeySystem(), SecurityLevel: d.SecurityLevel})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreate(c *gin.Context) {
	var req remote.CreateSessionRequest
	if !bind(c, &req) {
		return
	}
	secret, user := caller(c)
	device, ok := s.pickDevice(c, user, req.Client)
	if !ok {
		return
	}
	sessionType, ok := domain.ParseSessionType(string(req.SessionType))
	if !ok {
		abort(c, http.StatusBadRequest, "unknown session type "+string(req.SessionType))
		return
	}
	sess, err := s.services[device].Create(c.Request.Context(), sessionType)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.register(secret, device, sess)
	s.log.WithFields(logrus.Fields{"user": user.Name, "device": device, "session": sess.ID()}).Info("session opened")
	c.JSON(http.StatusOK, remote.SessionResponse{ID: sess.ID(), Type: sess.Type(), KeySystem: s.devices[device].Cdm.KeySystem()})
}

func (s *Server) handleResume(c *gin.Context) {
	var req remote.ResumeRequest
	if !bind(c, &req) {
		return
	}
	secret, user := caller(c)
	device, ok := s.pickDevice(c, user, req.Client)
	if !ok {
		return
	}
	svc := s.services[device]

	var (
		sess *session.Session
		err  error
	)
	switch {
	case req.State != "":
		sess, err = svc.Resume(c.Request.Context(), []byte(req.State))
	case req.ID != "":
		sess, err = s.restore(c.Request.Context(), svc, secret, req.ID)
	default:
		abort(c, http.StatusBadRequest, "state or id is required")
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.register(secret, device, sess)
	c.JSON(http.StatusOK, remote.SessionResponse{ID: sess.ID(), Type: sess.Type(), KeySystem: s.devices[device].Cdm.KeySystem()})
}

func (s *Server) handleGenerateRequest(c *gin.Context) {
	e, ok := s.session(c)
	if !ok {
		return
	}
	var req remote.GenerateRequestRequest
	if !bind(c, &req) {
		return
	}
	if len(req.InitData) == 0 {
		abort(c, http.StatusBadRequest, "initData is required")
		return
	}
	msg, err := e.sess.GenerateRequest(c.Request.Context(), req.InitDataType, req.InitData)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.MessageResponse{LicenseRequest: msg.Data, Type: msg.Type})
}

func (s *Server) handleUpdate(c *gin.Context) {
	e, ok := s.session(c)
	if !ok {
		return
	}
	var req remote.UpdateRequest
	if !bind(c, &req) {
		return
	}
	if len(req.Response) == 0 {
		abort(c, http.StatusBadRequest, "response is required")
		return
	}
	res, err := e.sess.Update(c.Request.Context(), req.Response)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := remote.UpdateResponse{Keys: e.sess.Keys()}
	if out.Keys == nil {
		out.Keys = []domain.Key{}
	}
	if len(res.Keys) > 0 {
		licensesParsed.WithLabelValues(s.devices[e.device].Cdm.KeySystem().String()).Inc()
	}
	if res.Message != nil {
		out.Message = &remote.MessageResponse{LicenseRequest: res.Message.Data, Type: res.Message.Type}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleKeys(c *gin.Context) {
	e, ok := s.session(c)
	if !ok {
		return
	}
	keys := e.sess.Keys()
	if keys == nil {
		keys = []domain.Key{}
	}
	c.JSON(http.StatusOK, keys)
}

func (s *Server) handleClose(c *gin.Context) {
	e, ok := s.session(c)
	if !ok {
		return
	}
	if err := e.sess.Close(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handlePause(c *gin.Context) {
	e, ok := s.session(c)
	if !ok {
		return
	}
	state, err := e.sess.Pause(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.states != nil {
		secret, _ := caller(c)
		if err := s.states.SaveState(c.Request.Context(), storeKey(secret, e.sess.ID()), state); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, remote.PauseResponse{State: string(state)})
}

func (s *Server) handleDelete(c *gin.Context) {
	e, ok := s.session(c)
	if !ok {
		return
	}
	secret, _ := caller(c)
	if err := e.sess.Remove(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.forget(c.Request.Context(), secret, e.sess.ID())
	if s.states != nil {
		_ = s.states.DeleteState(c.Request.Context(), storeKey(secret, e.sess.ID()))
	}
	c.Status(http.StatusNoContent)
}

// storeKey scopes saved state to the secret that paused it.
func storeKey(secret, id string) string {
	return registryKey(secret, id)
}

// restore resumes the state paused under id by the same secret.
func (s *Server) restore(ctx context.Context, svc *session.Service, secret, id string) (*session.Session, error) {
	if s.states == nil {
		return nil, errors.Wrap(domain.ErrUnsupported, "no state store configured")
	}
	state, ok, err := s.states.LoadState(ctx, storeKey(secret, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidSession, "no saved state for session %q", id)
	}
	return svc.Resume(ctx, state)
}
