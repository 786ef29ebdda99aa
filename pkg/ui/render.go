package ui

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/DeadAVA/CHATBOT/pkg/conversation"
	"github.com/DeadAVA/CHATBOT/pkg/markup"
	"github.com/DeadAVA/CHATBOT/pkg/recording"
	"github.com/DeadAVA/CHATBOT/pkg/view"
)

const (
	headerHeight = 1
	statusHeight = 1
)

func (m *App) desktop() bool {
	return m.Variant() == view.VariantDesktop
}

// layout sizes the widgets for the current terminal and layout.
func (m *App) layout() {
	w, h := m.width, m.height
	inputHeight, frame := 1, 0
	if m.desktop() {
		inputHeight, frame = 3, 2
	}

	m.viewport.Width = max(w-frame, 10)
	m.viewport.Height = max(h-headerHeight-statusHeight-inputHeight-frame, 3)
	m.chatInput.Width = max(w-frame-6, 10)
	m.welcomeInput.Width = max(min(w-14, 70), 10)
}

func (m *App) View() string {
	sections := []string{m.headerView()}

	s := m.Surface()
	if s.Visible(view.RegionWelcome) {
		sections = append(sections, m.welcomeView())
	}
	if s.Visible(view.RegionChatContainer) && m.adapter != nil {
		if s.Visible(m.adapter.MessageRegion()) {
			sections = append(sections, m.messagesView())
		}
		if s.Visible(m.adapter.InputRegion()) && m.clearForm == nil {
			sections = append(sections, m.inputView())
		}
	}

	if m.clearForm != nil {
		sections = append(sections, modalStyle.Render(m.clearForm.View()))
	}
	if m.recorder != nil {
		if snap := m.recorder.Snapshot(); snap.Controls.ModalOpen {
			sections = append(sections, m.recordingView(snap))
		}
	}

	sections = append(sections, m.statusView())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *App) headerView() string {
	title := titleStyle.Render("Asistente de denuncias")
	var badges []string
	if m.session.VoiceMode() {
		badges = append(badges, badgeStyle.Render("modo voz"))
	}
	if m.recorder != nil && m.recorder.State() == recording.StateRecording {
		badges = append(badges, recBadgeStyle.Render("● grabando"))
	}
	if len(badges) == 0 {
		return title
	}
	return title + "  " + strings.Join(badges, " ")
}

func (m *App) welcomeView() string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("¡Hola! 👋"),
		subtitleStyle.Render("Cuéntame qué ocurrió y te ayudo a preparar tu denuncia."),
		"",
		m.welcomeInput.View(),
	)
	box := welcomeStyle.Render(body)
	if m.desktop() {
		return lipgloss.PlaceHorizontal(m.width, lipgloss.Center, box)
	}
	return box
}

func (m *App) messagesView() string {
	if m.desktop() {
		return messagePaneStyle.Render(m.viewport.View())
	}
	return m.viewport.View()
}

func (m *App) inputView() string {
	if m.desktop() {
		return inputBarStyle.Width(max(m.width-4, 10)).Render(m.chatInput.View())
	}
	return m.chatInput.View()
}

func (m *App) recordingView(snap recording.Snapshot) string {
	button := func(label string, enabled bool) string {
		if enabled {
			return buttonStyle.Render(label)
		}
		return disabledButtonStyle.Render(label)
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		button("[g] Grabar", snap.Controls.StartEnabled), " ",
		button("[d] Detener", snap.Controls.StopEnabled), " ",
		helpStyle.Render(helpLine([]key.Binding{keys.RecClose})),
	)
	return modalStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		modalTitleStyle.Render(" Grabar audio "),
		"",
		snap.Controls.Status,
		"",
		buttons,
	))
}

func (m *App) statusView() string {
	var left string
	switch {
	case m.notice != "":
		left = noticeStyle.Render(m.notice)
	case m.recorder != nil:
		// The panel closes on stop; its outcome stays visible here.
		if snap := m.recorder.Snapshot(); !snap.Controls.ModalOpen && snap.Controls.Status != "" &&
			snap.Controls.Status != recording.StatusReady {
			left = noticeStyle.Render(snap.Controls.Status)
		}
	}

	help := helpLine(keys.desktopHelp())
	if !m.desktop() {
		help = helpLine(keys.mobileHelp())
	}
	if left == "" {
		return helpStyle.Render(help)
	}
	return left + "  " + helpStyle.Render(help)
}

func (m *App) renderMessages(width int) string {
	msgs := m.session.Conversation().Messages()
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, m.renderBubble(msg, width))
	}
	return strings.Join(parts, "\n\n")
}

func (m *App) bubbleWidth(width int) int {
	if m.desktop() {
		return max(width*3/4, 20)
	}
	return max(width-1, 10)
}

func (m *App) renderBubble(msg conversation.Message, width int) string {
	bw := m.bubbleWidth(width)

	if msg.Pending {
		return botBubbleStyle.Render(m.spinner.View() + " " + thinkingStyle.Render(conversation.ThinkingText))
	}

	key := renderKey{id: msg.ID, version: msg.Version, width: bw}
	if out, ok := m.rendered[key]; ok {
		return out
	}

	var out string
	if msg.Role == conversation.RoleUser {
		out = userBubbleStyle.Width(min(lipgloss.Width(msg.Content)+2, bw)).Render(msg.Content)
		if m.desktop() {
			out = lipgloss.PlaceHorizontal(width, lipgloss.Right, out)
		}
	} else {
		body := m.renderer.Render(msg.Content, bw-2)
		if msg.AudioURL != "" {
			body += "\n" + audioStyle.Render("🔊 "+msg.AudioURL)
		}
		out = botBubbleStyle.Render(body)
	}
	m.rendered[key] = out
	return out
}

// documentLinks returns the relative links of a bot bubble, which point at the
// backend's document routes.
func documentLinks(content string) []string {
	var ret []string
	seen := map[string]bool{}
	for _, l := range markup.Links(content) {
		u, err := url.Parse(l)
		if err != nil || u.IsAbs() || u.Host != "" || u.Path == "" || seen[l] {
			continue
		}
		seen[l] = true
		ret = append(ret, l)
	}
	return ret
}

func joinPaths(paths []string) string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return strings.Join(names, ", ")
}
