package markup

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
)

// Renderer renders bubble markup for the terminal with glamour. Renderers are
// cached per wrap width since the TUI re-renders on every resize.
type Renderer struct {
	style string

	mu    sync.Mutex
	cache map[int]*glamour.TermRenderer
}

// DetectStyle picks the glamour style matching the terminal.
func DetectStyle(tty bool) string {
	if !tty || termenv.EnvNoColor() {
		return styles.NoTTYStyle
	}
	if termenv.HasDarkBackground() {
		return styles.DarkStyle
	}
	return styles.LightStyle
}

func NewRenderer(style string) *Renderer {
	if style == "" {
		style = styles.NoTTYStyle
	}
	return &Renderer{style: style, cache: map[int]*glamour.TermRenderer{}}
}

func (r *Renderer) termRenderer(width int) (*glamour.TermRenderer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.cache[width]; ok {
		return tr, nil
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return nil, err
	}
	r.cache[width] = tr
	return tr, nil
}

// Render converts markup to markdown and renders it at the given width. On a
// glamour failure the plain markdown is returned.
func (r *Renderer) Render(markup string, width int) string {
	md := ToMarkdown(markup)
	if width <= 0 {
		width = 80
	}
	tr, err := r.termRenderer(width)
	if err != nil {
		log.Warn().Err(err).Str("component", "markup").Msg("failed to create renderer")
		return md
	}
	out, err := tr.Render(md)
	if err != nil {
		log.Warn().Err(err).Str("component", "markup").Msg("failed to render bubble")
		return md
	}
	return strings.Trim(out, "\n")
}
