package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cdmkit/internal/domain"
	"cdmkit/internal/remote"
)

const (
	secretContextKey = "secret"
	userContextKey   = "user"
)

// requireSecret resolves the x-secret-key header to a user.
func (s *Server) requireSecret(c *gin.Context) {
	secret := strings.TrimSpace(c.GetHeader(remote.SecretHeader))
	if secret == "" {
		abort(c, http.StatusUnauthorized, "missing "+remote.SecretHeader)
		return
	}
	user, ok := s.findUser(secret)
	if !ok {
		abort(c, http.StatusUnauthorized, "invalid secret")
		return
	}
	c.Set(secretContextKey, secret)
	c.Set(userContextKey, user)
	c.Next()
}

// findUser compares against every secret in constant time.
func (s *Server) findUser(secret string) (domain.User, bool) {
	var (
		found domain.User
		ok    bool
	)
	for known, user := range s.users {
		if subtle.ConstantTimeCompare([]byte(known), []byte(secret)) == 1 {
			found, ok = user, true
		}
	}
	return found, ok
}

func caller(c *gin.Context) (string, domain.User) {
	return c.GetString(secretContextKey), c.MustGet(userContextKey).(domain.User)
}

// pickDevice resolves the requested device for user. An empty name is
// allowed when the user has exactly one device.
func (s *Server) pickDevice(c *gin.Context, user domain.User, name string) (string, bool) {
	if name == "" {
		names := s.deviceNames(user)
		if len(names) != 1 {
			abort(c, http.StatusBadRequest, "client is required")
			return "", false
		}
		return names[0], true
	}
	if _, ok := s.devices[name]; !ok {
		abort(c, http.StatusNotFound, "unknown client "+name)
		return "", false
	}
	if !user.Allows(name) {
		abort(c, http.StatusForbidden, "client "+name+" not allowed")
		return "", false
	}
	return name, true
}
