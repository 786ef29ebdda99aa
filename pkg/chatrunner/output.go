package chatrunner

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	input "github.com/tcnksm/go-input"

	"github.com/DeadAVA/CHATBOT/pkg/markup"
)

// TextOutput renders the reply for a terminal of the given width.
func TextOutput(r *markup.Renderer, width int) OutputFunc {
	return func(w io.Writer, reply Reply) error {
		var sb strings.Builder
		if reply.Transcription != "" {
			fmt.Fprintf(&sb, "> %s\n\n", reply.Transcription)
		}
		if reply.Duplicate {
			sb.WriteString("(transcripción repetida, no se envió)\n")
		} else {
			sb.WriteString(strings.TrimRight(r.Render(reply.Message.Content, width), "\n"))
			sb.WriteString("\n")
			if reply.Message.AudioURL != "" {
				fmt.Fprintf(&sb, "\n🔊 %s\n", reply.Message.AudioURL)
			}
		}
		_, err := io.WriteString(w, sb.String())
		return err
	}
}

var (
	yesAnswers = map[string]bool{"s": true, "si": true, "sí": true, "y": true, "yes": true}
	noAnswers  = map[string]bool{"n": true, "no": true}
)

// AskYesNo asks query on tty until it gets a yes or no answer. An empty
// answer picks def.
func AskYesNo(tty io.ReadWriter, query string, def bool) (bool, error) {
	ui := &input.UI{
		Writer: tty,
		Reader: tty,
	}

	defAnswer := "n"
	if def {
		defAnswer = "s"
	}

	_, _ = fmt.Fprint(tty, "\n")
	answer, err := ui.Ask(query+" [s/n]", &input.Options{
		Default:  defAnswer,
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			a := strings.ToLower(strings.TrimSpace(answer))
			if !yesAnswers[a] && !noAnswers[a] {
				return errors.Errorf("responde 's' o 'n'")
			}
			return nil
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get user input")
	}
	_, _ = fmt.Fprint(tty, "\n")

	return yesAnswers[strings.ToLower(strings.TrimSpace(answer))], nil
}
