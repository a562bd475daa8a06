package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cdmkit/internal/app"
	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
	"cdmkit/internal/protocol/widevine"
)

func infoCmd(o *options) *cobra.Command {
	var clientID, privateKey, dump string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe a device file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				dev *app.Device
				err error
			)
			switch {
			case clientID != "" || privateKey != "":
				if clientID == "" || privateKey == "" {
					return errors.New("--client-id and --private-key go together")
				}
				dev, err = app.OpenUnpacked(o.cfg, clientID, privateKey, o.log)
			case o.cfg.Device != "":
				dev, err = app.OpenDevice(o.cfg, o.cfg.Device, o.log)
			default:
				return errors.New("--device or --client-id/--private-key is required")
			}
			if err != nil {
				return err
			}
			describe(cmd.OutOrStdout(), dev)

			if dump == "" {
				return nil
			}
			var raw []byte
			if dev.Widevine != nil {
				raw, err = dev.Widevine.Dump()
			} else {
				raw, err = dev.PlayReady.Dump()
			}
			if err != nil {
				return err
			}
			return os.WriteFile(dump, raw, 0o600)
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "Widevine: client id blob")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "Widevine: PEM or DER private key")
	cmd.Flags().StringVar(&dump, "dump", "", "write the device in the current file format")
	return cmd
}

func describe(out io.Writer, dev *app.Device) {
	fmt.Fprintf(out, "name:           %s\n", dev.Name)
	fmt.Fprintf(out, "key system:     %s\n", dev.Cdm.KeySystem())
	fmt.Fprintf(out, "security level: %d\n", dev.SecurityLevel)
	fmt.Fprintf(out, "fingerprint:    %s\n", dev.Fingerprint())
	if wv := dev.Widevine; wv != nil {
		fmt.Fprintf(out, "type:           %s\n", wv.Type)
		fmt.Fprintf(out, "system id:      %d\n", wv.SystemID())
		fmt.Fprintf(out, "company:        %s\n", wv.ClientID.Info("company_name"))
		fmt.Fprintf(out, "model:          %s\n", wv.ClientID.Info("model_name"))
		return
	}
	pr := dev.PlayReady
	fmt.Fprintf(out, "certificate:    %s\n", pr.Name())
	fmt.Fprintf(out, "chain length:   %d\n", pr.Chain.Count())
	fmt.Fprintf(out, "group key:      %t\n", pr.GroupKey != nil)
}

func psshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pssh INIT_DATA",
		Short: "Decode Widevine or PlayReady init data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			// WRM headers are recognised strictly, so try PlayReady first.
			if p, err := playready.ParsePssh([]byte(args[0])); err == nil {
				fmt.Fprintln(out, "system: playready")
				for _, h := range p.WRMHeaders {
					fmt.Fprintf(out, "wrm header (v%d): %s\n", playready.ProtocolVersion(h), h)
				}
				return nil
			}
			p, err := widevine.ParsePssh([]byte(args[0]))
			if err != nil {
				return errors.Wrap(domain.ErrMalformedInput, "init data is neither Widevine nor PlayReady")
			}
			fmt.Fprintln(out, "system: widevine")
			for _, kid := range p.Data.KeyIDs {
				fmt.Fprintf(out, "key id: %s\n", hex.EncodeToString(kid))
			}
			if p.Data.Provider != "" {
				fmt.Fprintf(out, "provider: %s\n", p.Data.Provider)
			}
			if len(p.Data.ContentID) > 0 {
				fmt.Fprintf(out, "content id: %s\n", hex.EncodeToString(p.Data.ContentID))
			}
			return nil
		},
	}
}

func provisionCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Issue a fresh leaf certificate for a PlayReady device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.cfg.Device == "" {
				return errors.New("--device is required")
			}
			dev, err := app.OpenDevice(o.cfg, o.cfg.Device, o.log)
			if err != nil {
				return err
			}
			if dev.PlayReady == nil {
				return errors.Wrap(domain.ErrUnsupported, "only PlayReady devices can be provisioned")
			}
			fresh, err := dev.PlayReady.Provision()
			if err != nil {
				return err
			}
			raw, err := fresh.Dump()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, raw, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s (level %d) -> %s\n", fresh.Name(), fresh.SecurityLevel(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output .prd file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func keysCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Saved keys",
	}
	list := &cobra.Command{
		Use:   "list [LABEL]",
		Short: "Print keys saved with license --save",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.cfg.Passphrase == "" {
				return errors.New("--passphrase is required")
			}
			batches, err := app.NewKeyStore(o.cfg).LoadKeys(o.cfg.Passphrase)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range batches {
				if len(args) == 1 && !strings.EqualFold(args[0], b.Label) {
					continue
				}
				fmt.Fprintf(out, "# %s %s %s\n", b.Label, b.KeySystem, time.Unix(b.SavedUTC, 0).UTC().Format(time.RFC3339))
				printKeys(out, b.Keys)
			}
			return nil
		},
	}
	cmd.AddCommand(list)
	// bare "keys" lists everything
	cmd.RunE = list.RunE
	cmd.Args = list.Args
	return cmd
}
