package app

import (
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home   string // state directory, e.g. $HOME/.cdmkit
	Device string // .wvd or .prd device file

	// Remote CDM; when ServerURL is set Device is ignored.
	ServerURL  string
	Secret     string
	ClientName string

	HTTP    *http.Client // optional; defaults to a client with Timeout
	Timeout time.Duration

	ClientVersion  string // PlayReady client version reported in challenges
	PrivacyMode    bool   // Widevine: encrypt the client id
	ServiceRootKey string // Widevine: PEM or DER file verifying service certificates
	PlayReadyRoot  string // hex root issuer key replacing the built-in one

	RedisAddr  string
	Passphrase string // seals paused session state and saved keys
	LogLevel   string
}

// DefaultHome is $CDMKIT_HOME, else ~/.cdmkit.
func DefaultHome() string {
	if h := os.Getenv("CDMKIT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cdmkit"
	}
	return filepath.Join(home, ".cdmkit")
}

func (c Config) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
