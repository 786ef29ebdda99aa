package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Quit      key.Binding
	Send      key.Binding
	Dismiss   key.Binding
	Record    key.Binding
	Clear     key.Binding
	VoiceMode key.Binding
	Copy      key.Binding
	Download  key.Binding
	PageUp    key.Binding
	PageDown  key.Binding

	// recording panel
	RecStart  key.Binding
	RecStop   key.Binding
	RecToggle key.Binding
	RecClose  key.Binding
}

var keys = keyMap{
	Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "salir")),
	Send:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "enviar")),
	Dismiss:   key.NewBinding(key.WithKeys("esc")),
	Record:    key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "grabar")),
	Clear:     key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "borrar")),
	VoiceMode: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "voz")),
	Copy:      key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copiar")),
	Download:  key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "descargar")),
	PageUp:    key.NewBinding(key.WithKeys("pgup")),
	PageDown:  key.NewBinding(key.WithKeys("pgdown")),

	RecStart:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "grabar")),
	RecStop:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "detener")),
	RecToggle: key.NewBinding(key.WithKeys("enter", " ")),
	RecClose:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cerrar")),
}

func (k keyMap) desktopHelp() []key.Binding {
	return []key.Binding{k.Send, k.Record, k.Clear, k.VoiceMode, k.Copy, k.Download, k.Quit}
}

func (k keyMap) mobileHelp() []key.Binding {
	return []key.Binding{k.Record, k.Clear, k.Quit}
}

func helpLine(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " · ")
}
