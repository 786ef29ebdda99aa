// Package ui is the bubbletea front end of the chat client.
package ui

import (
	"context"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/conversation"
	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/markup"
	"github.com/DeadAVA/CHATBOT/pkg/recording"
	"github.com/DeadAVA/CHATBOT/pkg/view"
)

// Downloader fetches a document link of a bot bubble into dir.
type Downloader interface {
	Download(ctx context.Context, ref string, dir string) (string, error)
}

type Options struct {
	Session *conversation.Session
	// Recorder is optional; without it the recording panel is disabled.
	Recorder    *recording.Session
	Renderer    *markup.Renderer
	Downloader  Downloader
	DownloadDir string
	// Variant forces a layout. When empty the layout follows the terminal
	// width.
	Variant    view.Variant
	Breakpoint int
	Clipboard  func(string) error
}

type (
	turnDoneMsg struct {
		Message conversation.Message
	}
	recordingStartedMsg struct {
		Err error
	}
	recordingDoneMsg struct {
		Result *recording.Result
		Err    error
	}
	clearDoneMsg struct {
		Err error
	}
	downloadDoneMsg struct {
		Paths []string
		Err   error
	}
	noticeMsg string
)

type renderKey struct {
	id      uuid.UUID
	version uint64
	width   int
}

// App is the root model. It never owns conversation state: bubbles are read
// back from the session on every render.
type App struct {
	ctx      context.Context
	opts     Options
	session  *conversation.Session
	recorder *recording.Session
	renderer *markup.Renderer

	controller *view.Controller
	adapter    view.Adapter
	forced     bool

	width  int
	height int

	welcomeInput textinput.Model
	chatInput    textinput.Model
	viewport     viewport.Model
	spinner      spinner.Model

	clearForm    *huh.Form
	clearConfirm *bool

	notice   string
	rendered map[renderKey]string
}

var _ tea.Model = &App{}

func NewApp(ctx context.Context, opts Options) *App {
	if opts.Renderer == nil {
		opts.Renderer = markup.NewRenderer("")
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.WriteAll
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}

	welcome := textinput.New()
	welcome.Placeholder = "¿En qué puedo ayudarte?"
	welcome.Prompt = "› "
	welcome.Focus()

	chat := textinput.New()
	chat.Placeholder = "Escribe un mensaje..."
	chat.Prompt = "› "
	chat.Focus()

	m := &App{
		ctx:          ctx,
		opts:         opts,
		session:      opts.Session,
		recorder:     opts.Recorder,
		renderer:     opts.Renderer,
		welcomeInput: welcome,
		chatInput:    chat,
		viewport:     viewport.New(80, 20),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		rendered:     map[renderKey]string{},
		width:        80,
		height:       24,
	}

	variant := opts.Variant
	if variant != "" {
		m.forced = true
	} else {
		variant = view.VariantDesktop
	}
	m.useLayout(variant)
	return m
}

// useLayout builds a fresh surface for v and hands its controller to the
// session. The conversation is kept.
func (m *App) useLayout(v view.Variant) {
	surface := view.NewSurfaceForVariant(v)
	c := view.NewController(surface, m.session.Conversation())
	m.controller = c
	m.adapter = view.SelectAdapter(surface)
	m.session.SetView(c)
	c.Refresh()
	log.Debug().Str("component", "ui").Str("variant", string(v)).Msg("layout selected")
}

func (m *App) Surface() *view.Surface {
	return m.controller.Surface()
}

func (m *App) Variant() view.Variant {
	return m.controller.Variant()
}

func (m *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case EventMsg:
		m.onEvent(msg)
		return m, nil

	case turnDoneMsg:
		m.syncContent(true)
		return m, nil

	case recordingStartedMsg:
		if msg.Err != nil && !isBusy(msg.Err) {
			log.Debug().Err(msg.Err).Str("component", "ui").Msg("recording did not start")
		}
		return m, nil

	case recordingDoneMsg:
		if msg.Result != nil && msg.Result.Duplicate {
			m.notice = "La transcripción repite tu último mensaje; no se agregó."
		}
		m.syncContent(true)
		return m, nil

	case clearDoneMsg:
		if msg.Err != nil {
			m.notice = "No se pudo borrar la conversación."
			return m, nil
		}
		m.notice = ""
		m.rendered = map[renderKey]string{}
		m.syncContent(true)
		return m, nil

	case downloadDoneMsg:
		m.onDownloaded(msg)
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.hasPending() {
			m.syncContent(false)
		}
		if m.clearForm != nil {
			return m, tea.Batch(cmd, m.updateClearForm(msg))
		}
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.clearForm != nil {
			return m, m.updateClearForm(msg)
		}
		return m.handleKey(msg)
	}

	var cmds []tea.Cmd
	if m.clearForm != nil {
		cmds = append(cmds, m.updateClearForm(msg))
	}
	var cmd tea.Cmd
	m.welcomeInput, cmd = m.welcomeInput.Update(msg)
	cmds = append(cmds, cmd)
	m.chatInput, cmd = m.chatInput.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *App) resize(width, height int) {
	m.width, m.height = width, height
	if !m.forced {
		if next, changed := view.Route(m.Variant(), width, m.opts.Breakpoint); changed {
			m.useLayout(next)
			m.rendered = map[renderKey]string{}
		}
	}
	m.layout()
	m.syncContent(true)
}

func (m *App) onEvent(msg EventMsg) {
	log.Trace().Str("component", "ui").Str("type", string(msg.Event.Type)).Msg("event")
	switch msg.Event.Type {
	case events.EventConversationCleared:
		m.rendered = map[renderKey]string{}
		m.syncContent(true)
	case events.EventMessageAppended, events.EventMessageUpdated:
		m.syncContent(true)
	}
}

func (m *App) hasPending() bool {
	for _, msg := range m.session.Conversation().Messages() {
		if msg.Pending {
			return true
		}
	}
	return false
}

func (m *App) syncContent(bottom bool) {
	m.viewport.SetContent(m.renderMessages(m.viewport.Width))
	if bottom {
		m.viewport.GotoBottom()
	}
}

func (m *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.recorder != nil {
		if snap := m.recorder.Snapshot(); snap.Controls.ModalOpen {
			return m, m.handleModalKey(msg, snap)
		}
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Send):
		return m, m.submit()
	case key.Matches(msg, keys.Dismiss):
		m.notice = ""
		return m, nil
	case key.Matches(msg, keys.Record):
		if m.recorder == nil {
			m.notice = "La grabación no está disponible."
			return m, nil
		}
		m.recorder.OpenModal()
		return m, nil
	case key.Matches(msg, keys.Clear):
		return m, m.openClearForm()
	case key.Matches(msg, keys.VoiceMode):
		on := !m.session.VoiceMode()
		m.session.SetVoiceMode(on)
		if on {
			m.notice = "Modo voz activado."
		} else {
			m.notice = "Modo voz desactivado."
		}
		return m, nil
	case key.Matches(msg, keys.Copy):
		return m, m.copyLastReply()
	case key.Matches(msg, keys.Download):
		return m, m.downloadLastReply()
	case key.Matches(msg, keys.PageUp):
		m.viewport.ViewUp()
		return m, nil
	case key.Matches(msg, keys.PageDown):
		m.viewport.ViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	if m.Surface().Visible(view.RegionWelcome) {
		m.welcomeInput, cmd = m.welcomeInput.Update(msg)
	} else {
		m.chatInput, cmd = m.chatInput.Update(msg)
	}
	return m, cmd
}

// submit sends the focused input. Blank input is ignored and keeps its
// content.
func (m *App) submit() tea.Cmd {
	s := m.Surface()
	if s.Visible(view.RegionWelcome) {
		turn, err := m.session.BeginConversation(m.welcomeInput.Value())
		if err != nil {
			return nil
		}
		m.welcomeInput.Reset()
		return m.runTurn(turn)
	}
	if m.adapter == nil || !s.Visible(m.adapter.InputRegion()) {
		return nil
	}
	turn, err := m.session.Begin(m.chatInput.Value(), false)
	if err != nil {
		return nil
	}
	m.chatInput.Reset()
	return m.runTurn(turn)
}

func (m *App) runTurn(t *conversation.Turn) tea.Cmd {
	m.syncContent(true)
	ctx := m.ctx
	return func() tea.Msg {
		return turnDoneMsg{Message: t.Complete(ctx)}
	}
}

func (m *App) handleModalKey(msg tea.KeyMsg, snap recording.Snapshot) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit
	case key.Matches(msg, keys.RecClose):
		m.recorder.CloseModal()
	case key.Matches(msg, keys.RecStart):
		if snap.Controls.StartEnabled {
			return m.startRecording()
		}
	case key.Matches(msg, keys.RecStop):
		if snap.Controls.StopEnabled {
			return m.stopRecording()
		}
	case key.Matches(msg, keys.RecToggle):
		switch {
		case snap.Controls.StopEnabled:
			return m.stopRecording()
		case snap.Controls.StartEnabled:
			return m.startRecording()
		}
	}
	return nil
}

func (m *App) startRecording() tea.Cmd {
	ctx, rec := m.ctx, m.recorder
	return func() tea.Msg {
		return recordingStartedMsg{Err: rec.Start(ctx)}
	}
}

func (m *App) stopRecording() tea.Cmd {
	ctx, rec := m.ctx, m.recorder
	return func() tea.Msg {
		res, err := rec.Stop(ctx)
		return recordingDoneMsg{Result: res, Err: err}
	}
}

func (m *App) openClearForm() tea.Cmd {
	confirm := false
	m.clearConfirm = &confirm
	m.clearForm = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("¿Borrar la conversación?").
				Description("El asistente olvidará todo lo conversado.").
				Affirmative("Sí, borrar").
				Negative("Cancelar").
				Value(m.clearConfirm),
		),
	).WithTheme(huh.ThemeCharm()).WithShowHelp(false)
	return m.clearForm.Init()
}

// updateClearForm routes msg to the confirm dialog and runs the clear once it
// is confirmed.
func (m *App) updateClearForm(msg tea.Msg) tea.Cmd {
	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, keys.Dismiss) {
		m.clearForm, m.clearConfirm = nil, nil
		return nil
	}

	fm, cmd := m.clearForm.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.clearForm = f
	}

	switch m.clearForm.State {
	case huh.StateCompleted:
		confirmed := m.clearConfirm != nil && *m.clearConfirm
		m.clearForm, m.clearConfirm = nil, nil
		if confirmed {
			return m.clearConversation()
		}
		return nil
	case huh.StateAborted:
		m.clearForm, m.clearConfirm = nil, nil
		return nil
	}
	return cmd
}

func (m *App) clearConversation() tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		return clearDoneMsg{Err: s.ClearConversation(ctx)}
	}
}

func (m *App) copyLastReply() tea.Cmd {
	last, ok := m.session.Conversation().LastBot()
	if !ok {
		m.notice = "No hay respuesta para copiar."
		return nil
	}
	text := markup.ToMarkdown(last.Content)
	write := m.opts.Clipboard
	return func() tea.Msg {
		if err := write(text); err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("clipboard write failed")
			return noticeMsg("No se pudo copiar al portapapeles.")
		}
		return noticeMsg("Respuesta copiada al portapapeles.")
	}
}

func (m *App) downloadLastReply() tea.Cmd {
	last, ok := m.session.Conversation().LastBot()
	var refs []string
	if ok {
		refs = documentLinks(last.Content)
	}
	if len(refs) == 0 {
		m.notice = "La última respuesta no tiene documentos."
		return nil
	}
	if m.opts.Downloader == nil {
		m.notice = "Las descargas no están disponibles."
		return nil
	}
	ctx, d, dir := m.ctx, m.opts.Downloader, m.opts.DownloadDir
	m.notice = "Descargando..."
	return func() tea.Msg {
		var paths []string
		for _, ref := range refs {
			p, err := d.Download(ctx, ref, dir)
			if err != nil {
				log.Error().Err(err).Str("component", "ui").Str("ref", ref).Msg("download failed")
				return downloadDoneMsg{Paths: paths, Err: err}
			}
			paths = append(paths, p)
		}
		return downloadDoneMsg{Paths: paths}
	}
}

func (m *App) onDownloaded(msg downloadDoneMsg) {
	if msg.Err != nil {
		m.notice = "Error al descargar el documento."
		return
	}
	m.notice = "Guardado: " + joinPaths(msg.Paths)
}

func isBusy(err error) bool {
	return errors.Is(err, recording.ErrBusy)
}
