package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cdmkit/internal/app"
	"cdmkit/internal/domain"
	"cdmkit/internal/services/session"
)

// challengeCmd and updateCmd split a license exchange in two so the
// request can be carried to the server by other means. The session is
// paused into the state store in between.
func challengeCmd(o *options) *cobra.Command {
	var (
		pssh         string
		initDataType string
		persistent   bool
	)
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Generate a license request and park the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := o.wire(ctx)
			if err != nil {
				return err
			}
			sessionType := domain.SessionTemporary
			if persistent {
				sessionType = domain.SessionPersistent
			}
			sess, err := w.Sessions.Create(ctx, sessionType)
			if err != nil {
				return err
			}
			msg, err := sess.GenerateRequest(ctx, initDataType, []byte(pssh))
			if err != nil {
				_ = sess.Close(ctx)
				return err
			}
			return park(cmd, w, sess, msg)
		},
	}
	cmd.Flags().StringVar(&pssh, "pssh", "", "init data (base64 PSSH box or header)")
	cmd.Flags().StringVar(&initDataType, "init-data-type", "cenc", "EME init data type")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "request a persistent license")
	_ = cmd.MarkFlagRequired("pssh")
	return cmd
}

func updateCmd(o *options) *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "update SESSION",
		Short: "Feed a license server response to a parked session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			body, err := readInput(cmd.InOrStdin(), response)
			if err != nil {
				return err
			}
			w, err := o.wire(ctx)
			if err != nil {
				return err
			}
			sess, err := w.Sessions.Restore(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := sess.Update(ctx, body)
			if err != nil {
				return err
			}
			if res.Message != nil {
				return park(cmd, w, sess, *res.Message)
			}
			printKeys(cmd.OutOrStdout(), res.Keys)
			_ = sess.Close(ctx)
			return w.Sessions.Forget(ctx, args[0])
		},
	}
	cmd.Flags().StringVarP(&response, "response", "r", "-", "response file, '-' for stdin")
	return cmd
}

// park saves sess and prints its id and the pending message.
func park(cmd *cobra.Command, w *app.Wire, sess *session.Session, msg domain.Message) error {
	if err := w.Sessions.Save(cmd.Context(), sess); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session: %s\n", sess.ID())
	fmt.Fprintf(out, "%s: %s\n", msg.Type, base64.StdEncoding.EncodeToString(msg.Data))
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	return b, errors.WithStack(err)
}
