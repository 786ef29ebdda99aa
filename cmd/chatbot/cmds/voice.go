package cmds

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
	"github.com/DeadAVA/CHATBOT/pkg/recording"
)

func newVoiceCommand(env *Env) *cobra.Command {
	var (
		file      string
		recordFor time.Duration
		output    string
	)
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Send one recording and print the transcription and the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (recordFor <= 0) {
				return errors.New("use exactly one of --file or --record-for")
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

			s := env.Settings
			var capturer recording.Capturer = &recording.FileCapturer{Path: file, ChunkSize: s.Recorder.ChunkSize}
			if file == "" {
				capturer = &recording.ExecCapturer{Command: s.Recorder.Command, ChunkSize: s.Recorder.ChunkSize}
			}

			cs, err := b.
				WithMode(chatrunner.RunModeVoice).
				WithCapturer(capturer).
				WithRecordFor(recordFor).
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
	cmd.Flags().StringVarP(&file, "file", "f", "", "upload this recording instead of using the microphone")
	cmd.Flags().DurationVarP(&recordFor, "record-for", "d", 0, "record from the microphone for this long")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json or yaml)")
	return cmd
}
