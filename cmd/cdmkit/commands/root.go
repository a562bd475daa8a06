package commands

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cdmkit/internal/app"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	cfg app.Config
	log *logrus.Logger
}

// Execute runs the cdmkit command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Every persistent flag falls back to
// a CDMKIT_* environment variable.
func NewRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:          "cdmkit",
		Short:        "Widevine and PlayReady license acquisition toolkit",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.cfg.Home == "" {
				o.cfg.Home = app.DefaultHome()
			}
			if err := os.MkdirAll(o.cfg.Home, 0o700); err != nil {
				return err
			}
			log, err := app.NewLogger(cmd.ErrOrStderr(), o.cfg.LogLevel, false)
			if err != nil {
				return err
			}
			o.log = log
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&o.cfg.Home, "home", env("CDMKIT_HOME", ""), "state dir (default ~/.cdmkit)")
	f.StringVar(&o.cfg.LogLevel, "log-level", env("CDMKIT_LOG_LEVEL", "warning"), "log level")
	f.StringVarP(&o.cfg.Device, "device", "d", env("CDMKIT_DEVICE", ""), "device file (.wvd or .prd)")
	f.StringVar(&o.cfg.ServerURL, "server", env("CDMKIT_SERVER", ""), "remote CDM base URL")
	f.StringVar(&o.cfg.Secret, "secret", env("CDMKIT_SECRET", ""), "remote CDM secret")
	f.StringVar(&o.cfg.ClientName, "client", env("CDMKIT_CLIENT", ""), "remote CDM device name")
	f.DurationVar(&o.cfg.Timeout, "timeout", envDuration("CDMKIT_TIMEOUT", 30*time.Second), "HTTP timeout")
	f.BoolVar(&o.cfg.PrivacyMode, "privacy-mode", envBool("CDMKIT_PRIVACY_MODE"), "Widevine: encrypt the client id")
	f.StringVar(&o.cfg.ServiceRootKey, "service-root-key", env("CDMKIT_SERVICE_ROOT_KEY", ""), "Widevine: key file verifying service certificates")
	f.StringVar(&o.cfg.PlayReadyRoot, "playready-root", env("CDMKIT_PLAYREADY_ROOT", ""), "PlayReady: hex root issuer key")
	f.StringVar(&o.cfg.ClientVersion, "client-version", env("CDMKIT_CLIENT_VERSION", ""), "PlayReady: client version in challenges")
	f.StringVar(&o.cfg.RedisAddr, "redis", env("CDMKIT_REDIS", ""), "store paused sessions in Redis")
	f.StringVarP(&o.cfg.Passphrase, "passphrase", "p", env("CDMKIT_PASSPHRASE", ""), "passphrase sealing saved keys and sessions")

	root.AddCommand(
		licenseCmd(o),
		remoteCmd(o),
		challengeCmd(o),
		updateCmd(o),
		infoCmd(o),
		psshCmd(),
		provisionCmd(o),
		keysCmd(o),
	)
	return root
}

func (o *options) wire(ctx context.Context) (*app.Wire, error) {
	return app.NewWire(ctx, o.cfg, o.log)
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
