package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cdmkit/internal/app"
	"cdmkit/internal/domain"
)

type fetchFlags struct {
	url          string
	pssh         string
	initDataType string
	headers      []string
	persistent   bool
	save         bool
	label        string
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "license server URL")
	cmd.Flags().StringVar(&f.pssh, "pssh", "", "init data (base64 PSSH box or header)")
	cmd.Flags().StringVar(&f.initDataType, "init-data-type", "cenc", "EME init data type")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "extra request header 'Name: value' (repeatable)")
	cmd.Flags().BoolVar(&f.persistent, "persistent", false, "request a persistent license")
	cmd.Flags().BoolVar(&f.save, "save", false, "append the keys to the encrypted key store")
	cmd.Flags().StringVar(&f.label, "label", "", "label for saved keys (default: license URL host)")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("pssh")
}

func licenseCmd(o *options) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Fetch content keys from a license server with a local device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.cfg.Device == "" {
				return errors.New("--device is required")
			}
			o.cfg.ServerURL = ""
			return fetch(cmd.Context(), o, f, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	return cmd
}

func remoteCmd(o *options) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Fetch content keys through a remote CDM server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.cfg.ServerURL == "" {
				return errors.New("--server is required")
			}
			return fetch(cmd.Context(), o, f, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	return cmd
}

func fetch(ctx context.Context, o *options, f fetchFlags, out io.Writer) error {
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return err
	}
	sessionType := domain.SessionTemporary
	if f.persistent {
		sessionType = domain.SessionPersistent
	}

	w, err := o.wire(ctx)
	if err != nil {
		return err
	}
	keys, err := w.License.Fetch(ctx, w.Cdm, domain.FetchParams{
		InitData:     []byte(f.pssh),
		InitDataType: f.initDataType,
		SessionType:  sessionType,
		URL:          f.url,
		Headers:      headers,
	})
	if err != nil {
		return err
	}
	printKeys(out, keys)

	if f.save {
		return saveKeys(w, o.cfg, f.label, f.url, keys)
	}
	return nil
}

func saveKeys(w *app.Wire, cfg app.Config, label, licenseURL string, keys []domain.Key) error {
	if cfg.Passphrase == "" {
		return errors.New("--passphrase is required to save keys")
	}
	if label == "" {
		if u, err := url.Parse(licenseURL); err == nil {
			label = u.Host
		}
	}
	return w.Keys.SaveKeys(cfg.Passphrase, domain.SavedKeys{
		Label:     label,
		KeySystem: w.Cdm.KeySystem().String(),
		Keys:      keys,
		SavedUTC:  time.Now().UTC().Unix(),
	})
}

// parseHeaders turns "Name: value" pairs into a header set.
func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, errors.Errorf("bad header %q, want 'Name: value'", kv)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

func printKeys(out io.Writer, keys []domain.Key) {
	for _, k := range keys {
		fmt.Fprintln(out, k.String())
	}
}
