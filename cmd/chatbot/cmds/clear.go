package cmds

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
)

func newClearCommand(env *Env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Ask the backend to forget the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if !isatty.IsTerminal(os.Stderr.Fd()) {
					return errors.New("not a terminal, use --yes to clear without confirmation")
				}
				ok, err := chatrunner.AskYesNo(os.Stderr, "¿Borrar la conversación?", false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			client, err := env.backend()
			if err != nil {
				return err
			}
			msg, err := client.ConfirmClear(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "clear conversation")
			}
			if msg == "" {
				msg = "Conversación borrada."
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
