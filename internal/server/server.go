package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Velocidex/ttlcache/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
	"cdmkit/internal/services/session"
)

// Device is one loaded device the server can open sessions on.
type Device struct {
	Cdm           domain.Cdm
	SecurityLevel uint32
}

// Deps are the collaborators of a Server.
type Deps struct {
	// Devices by name.
	Devices map[string]Device
	// Users by secret.
	Users map[string]domain.User
	// States, when set, also keeps paused sessions for resume by id.
	States domain.StateStore
	// IdleTimeout closes sessions untouched for this long. Defaults to
	// DefaultIdleTimeout.
	IdleTimeout time.Duration
	Logger      logrus.FieldLogger
}

// DefaultIdleTimeout is used when Deps.IdleTimeout is zero.
const DefaultIdleTimeout = time.Hour

// Server is the remote CDM HTTP server. Sessions are held in a registry
// keyed by "secret:id", so one user can never reach another's sessions.
// Registry entries expire after the idle timeout; every lookup extends it.
type Server struct {
	devices  map[string]Device
	services map[string]*session.Service
	users    map[string]domain.User
	states   domain.StateStore
	log      logrus.FieldLogger
	r        *gin.Engine
	sessions *ttlcache.Cache
}

type entry struct {
	sess   *session.Session
	device string
	once   sync.Once
}

// drop closes the session. It runs once whether the entry was forgotten,
// expired or swept at shutdown.
func (e *entry) drop(ctx context.Context) {
	e.once.Do(func() {
		_ = e.sess.Close(ctx)
		sessionsActive.Dec()
	})
}

// New builds a Server and its routes.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// chrome and resumed session ids may contain '/'
	r.UseRawPath = true
	r.UnescapePathValues = true

	s := &Server{
		devices:  deps.Devices,
		services: make(map[string]*session.Service, len(deps.Devices)),
		users:    deps.Users,
		states:   deps.States,
		log:      log.WithField("component", "server"),
		r:        r,
		sessions: ttlcache.NewCache(),
	}
	idle := deps.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	_ = s.sessions.SetTTL(idle)
	s.sessions.SetExpirationCallback(func(key string, value interface{}) error {
		if e, ok := value.(*entry); ok {
			s.log.WithField("session", e.sess.ID()).Info("idle session expired")
			e.drop(context.Background())
		}
		return nil
	})
	for name, d := range deps.Devices {
		opts := []session.Option{session.WithLogger(s.log)}
		if deps.States != nil {
			opts = append(opts, session.WithStateStore(deps.States))
		}
		s.services[name] = session.New(d.Cdm, opts...)
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.r.Group("/", s.requireSecret)
	api.GET("/devices", s.handleDevices)
	api.POST("/sessions", s.handleCreate)
	api.POST("/sessions/resume", s.handleResume)
	api.POST("/sessions/:id/generate-request", s.handleGenerateRequest)
	api.POST("/sessions/:id/update", s.handleUpdate)
	api.GET("/sessions/:id/keys", s.handleKeys)
	api.POST("/sessions/:id/close", s.handleClose)
	api.POST("/sessions/:id/pause", s.handlePause)
	api.DELETE("/sessions/:id", s.handleDelete)
}

// Shutdown closes every registered session and the registry.
func (s *Server) Shutdown(ctx context.Context) {
	for _, key := range s.sessions.GetKeys() {
		if v, err := s.sessions.Get(key); err == nil {
			v.(*entry).drop(ctx)
		}
	}
	s.sessions.Purge()
	s.sessions.Close()
}

// deviceNames lists the devices user may use, sorted.
func (s *Server) deviceNames(user domain.User) []string {
	var names []string
	for name := range s.devices {
		if user.Allows(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func registryKey(secret, id string) string { return secret + ":" + id }

func (s *Server) register(secret, device string, sess *session.Session) {
	key := registryKey(secret, sess.ID())
	if old, err := s.sessions.Get(key); err == nil {
		old.(*entry).drop(context.Background())
	}
	_ = s.sessions.Set(key, &entry{sess: sess, device: device})
	sessionsActive.Inc()
	sessionsOpened.WithLabelValues(s.devices[device].Cdm.KeySystem().String()).Inc()
}

func (s *Server) lookup(secret, id string) (*entry, bool) {
	v, err := s.sessions.Get(registryKey(secret, id))
	if err != nil {
		return nil, false
	}
	e, ok := v.(*entry)
	return e, ok
}

func (s *Server) forget(ctx context.Context, secret, id string) {
	key := registryKey(secret, id)
	if v, err := s.sessions.Get(key); err == nil {
		_ = s.sessions.Remove(key)
		v.(*entry).drop(ctx)
	}
}
