package cmds

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DeadAVA/CHATBOT/pkg/persistence/turnlog"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newLogCommand(env *Env) *cobra.Command {
	var (
		conversation string
		limit        int
		output       string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the turn log",
		Long: "Without --conversation, list the logged conversations, most recent first. " +
			"The turn log is written when turn_log.path is configured.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := env.turnLog()
			if err != nil {
				return errors.Wrap(err, "open turn log")
			}
			if store == nil {
				return errors.New("no turn log configured (set turn_log.path)")
			}
			defer func() { _ = store.Close() }()

			w := cmd.OutOrStdout()
			if conversation != "" {
				entries, err := store.List(cmd.Context(), conversation)
				if err != nil {
					return err
				}
				if output != outputText {
					return writeStructured(w, output, entries)
				}
				return writeEntries(w, entries)
			}

			convs, err := store.Conversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output != outputText {
				return writeStructured(w, output, convs)
			}
			return writeConversations(w, convs)
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation to print")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of conversations to list")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json or yaml)")
	return cmd
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func writeConversations(w io.Writer, convs []turnlog.ConversationRecord) error {
	if len(convs) == 0 {
		_, err := fmt.Fprintln(w, "No hay conversaciones registradas.")
		return err
	}
	t := newTable("CONVERSACIÓN", "INICIO", "ÚLTIMA ACTIVIDAD", "MENSAJES", "BORRADA")
	for _, c := range convs {
		t.Row(c.ConvID, formatMs(c.CreatedAtMs), formatMs(c.LastActivityMs), strconv.Itoa(c.Messages), formatMs(c.ClearedAtMs))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func writeEntries(w io.Writer, entries []turnlog.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "La conversación no tiene mensajes.")
		return err
	}
	t := newTable("HORA", "ROL", "CONTENIDO").Width(stdoutWidth()).Wrap(true)
	for _, e := range entries {
		content := e.Content
		if e.Pending {
			content = "(pendiente)"
		}
		if e.AudioURL != "" {
			content += "\n🔊 " + e.AudioURL
		}
		t.Row(formatMs(e.CreatedAtMs), e.Role, strings.TrimSpace(content))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
