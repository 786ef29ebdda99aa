package cmds

import (
	"github.com/spf13/cobra"

	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
	"github.com/DeadAVA/CHATBOT/pkg/recording"
)

func newChatCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:         "chat",
		Short:       "Open the chat in the terminal (default)",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationTUI: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cleanup, err := env.newBuilder(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			router, err := env.router()
			if err != nil {
				return err
			}
			s := env.Settings
			cs, err := b.
				WithMode(chatrunner.RunModeChat).
				WithExternalRouter(router).
				WithCapturer(&recording.ExecCapturer{
					Command:   s.Recorder.Command,
					ChunkSize: s.Recorder.ChunkSize,
				}).
				Build()
			if err != nil {
				return err
			}
			return cs.Run()
		},
	}
}
