package app

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cdmkit/internal/domain"
	"cdmkit/internal/server"
	"cdmkit/internal/store"
)

// ServerConfigFile is the default server config file name.
const ServerConfigFile = "cdmkit.server.json"

// ServerConfig is the remote CDM server configuration file.
type ServerConfig struct {
	Host    string   `json:"host"`
	Port    int      `json:"port"`
	Devices []string `json:"devices"`
	// Users by secret.
	Users         map[string]domain.User `json:"users"`
	PrivacyMode   bool                   `json:"privacyMode"`
	Redis         string                 `json:"redis,omitempty"`
	RedisPassword string                 `json:"redisPassword,omitempty"`
	// StateTTL bounds how long paused sessions are kept in Redis.
	StateTTL string `json:"stateTTL,omitempty"`
	// SessionIdle closes live sessions nobody touched for this long.
	SessionIdle    string `json:"sessionIdle,omitempty"`
	PlayReadyRoot  string `json:"playReadyRoot,omitempty"`
	ServiceRootKey string `json:"serviceRootKey,omitempty"`
}

// LoadServerConfig reads path. A missing file yields the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8786}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// NewServer loads every configured device and builds the server. The
// returned close func releases the state store.
func NewServer(cfg ServerConfig, home string, log logrus.FieldLogger) (*server.Server, func() error, error) {
	devices := make(map[string]server.Device, len(cfg.Devices))
	for _, path := range cfg.Devices {
		dev, err := OpenDevice(Config{
			PrivacyMode:    cfg.PrivacyMode,
			ServiceRootKey: cfg.ServiceRootKey,
			PlayReadyRoot:  cfg.PlayReadyRoot,
		}, path, log)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "device %s", path)
		}
		if _, dup := devices[dev.Name]; dup {
			return nil, nil, errors.Errorf("duplicate device name %q", dev.Name)
		}
		devices[dev.Name] = server.Device{Cdm: dev.Cdm, SecurityLevel: dev.SecurityLevel}
		log.WithFields(logrus.Fields{
			"device":      dev.Name,
			"key_system":  dev.Cdm.KeySystem(),
			"fingerprint": dev.Fingerprint(),
		}).Info("device loaded")
	}

	var (
		states  domain.StateStore = store.NewStateFileStore(home)
		closeFn                   = func() error { return nil }
	)
	if cfg.Redis != "" {
		var ttl time.Duration
		if cfg.StateTTL != "" {
			var err error
			if ttl, err = time.ParseDuration(cfg.StateTTL); err != nil {
				return nil, nil, errors.Wrap(err, "stateTTL")
			}
		}
		rs, err := store.NewRedisStateStore(store.RedisOptions{Addr: cfg.Redis, Password: cfg.RedisPassword, TTL: ttl})
		if err != nil {
			return nil, nil, err
		}
		states, closeFn = rs, rs.Close
	}

	var idle time.Duration
	if cfg.SessionIdle != "" {
		var err error
		if idle, err = time.ParseDuration(cfg.SessionIdle); err != nil {
			return nil, nil, errors.Wrap(err, "sessionIdle")
		}
	}

	srv := server.New(server.Deps{
		Devices:     devices,
		Users:       cfg.Users,
		States:      states,
		IdleTimeout: idle,
		Logger:      log,
	})
	return srv, closeFn, nil
}
