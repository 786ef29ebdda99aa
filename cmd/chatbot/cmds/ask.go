package cmds

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
)

func newAskCommand(env *Env) *cobra.Command {
	var (
		output      string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "ask [TEXT...]",
		Short: "Send one message and print the reply",
		Long: "Send one message and print the reply. Without arguments the message is read " +
			"from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			out, renderer, err := replyOutput(output)
			if err != nil {
				return err
			}

			b, cleanup, err := env.newBuilder(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			mode := chatrunner.RunModeBlocking
			if interactive {
				mode = chatrunner.RunModeInteractive
				router, err := env.router()
				if err != nil {
					return err
				}
				b = b.WithExternalRouter(router)
			}
			cs, err := b.
				WithMode(mode).
				WithPrompt(prompt).
				WithRenderer(renderer).
				WithOutput(out).
				WithOutputWriter(cmd.OutOrStdout()).
				Build()
			if err != nil {
				return err
			}
			return cs.Run()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json or yaml)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "offer to continue in the chat afterwards")
	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && len(args) == 0 && isatty.IsTerminal(f.Fd()) {
		return "", errors.New("no message given")
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "read message from stdin")
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.New("no message given")
	}
	return prompt, nil
}
