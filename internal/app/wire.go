package app

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
	"cdmkit/internal/remote"
	"cdmkit/internal/services/license"
	"cdmkit/internal/services/session"
	"cdmkit/internal/store"
)

// Wire bundles the engine, stores and services for the CLI.
type Wire struct {
	Cdm      domain.Cdm
	Device   *Device // nil for a remote Cdm
	Sessions *session.Service
	License  *license.Service
	States   domain.StateStore
	Keys     domain.KeyStore
	HTTP     *http.Client
	Log      logrus.FieldLogger
}

// NewWire constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Wire, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	httpClient := cfg.httpClient()

	w := &Wire{
		Keys: NewKeyStore(cfg),
		HTTP: httpClient,
		Log:  log,
	}

	switch {
	case cfg.ServerURL != "":
		if cfg.ClientName == "" {
			return nil, errors.New("a client name is required with a remote server")
		}
		cdm, err := remote.Dial(ctx, cfg.ServerURL, cfg.Secret, cfg.ClientName,
			remote.WithHTTPClient(httpClient), remote.WithLogger(log))
		if err != nil {
			return nil, err
		}
		w.Cdm = cdm
	case cfg.Device != "":
		dev, err := OpenDevice(cfg, cfg.Device, log)
		if err != nil {
			return nil, err
		}
		w.Cdm, w.Device = dev.Cdm, dev
	default:
		return nil, errors.New("either a device or a remote server is required")
	}

	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisStateStore(store.RedisOptions{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, err
		}
		w.States = rs
	} else {
		w.States = store.NewStateFileStore(cfg.Home, store.WithPassphrase(cfg.Passphrase))
	}

	w.Sessions = session.New(w.Cdm, session.WithStateStore(w.States), session.WithLogger(log))
	w.License = license.New(license.WithHTTPClient(httpClient), license.WithLogger(log))
	return w, nil
}

// NewKeyStore opens the saved key store under cfg.Home.
func NewKeyStore(cfg Config) domain.KeyStore {
	return store.NewKeyFileStore(cfg.Home)
}
