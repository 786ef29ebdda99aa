package cmds

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/DeadAVA/CHATBOT/pkg/chatrunner"
	"github.com/DeadAVA/CHATBOT/pkg/markup"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func stdoutWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// writeStructured writes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q (text, json or yaml)", format)
	}
}

// replyOutput picks how one-shot commands print the reply.
func replyOutput(format string) (chatrunner.OutputFunc, *markup.Renderer, error) {
	renderer := markup.NewRenderer(markup.DetectStyle(isatty.IsTerminal(os.Stdout.Fd())))
	switch format {
	case outputText:
		return chatrunner.TextOutput(renderer, stdoutWidth()), renderer, nil
	case outputJSON, outputYAML:
		return func(w io.Writer, r chatrunner.Reply) error {
			return writeStructured(w, format, r)
		}, renderer, nil
	default:
		return nil, nil, errors.Errorf("unknown output format %q (text, json or yaml)", format)
	}
}
