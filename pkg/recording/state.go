// Package recording implements the single-recording voice capture session.
package recording

import (
	"github.com/pkg/errors"
)

type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateRecording            State = "recording"
	StateStopping             State = "stopping"
	StateUploading            State = "uploading"
)

// Panel status lines.
const (
	StatusReady       = "Presiona \"Grabar\" para iniciar la grabación."
	StatusRecording   = "🎙️ Grabando..."
	StatusProcessing  = "⏳ Procesando..."
	StatusMicError    = "❌ Error accediendo al micrófono."
	StatusEmptyAudio  = "❌ Error: El audio está vacío."
	StatusUploadError = "❌ Error al procesar el audio."
)

var (
	ErrEmptyPayload = errors.New("recorded audio is empty")
	ErrNotRecording = errors.New("no recording in progress")
	ErrBusy         = errors.New("recording session is busy")
)

// Controls is what the recording panel shows.
type Controls struct {
	ModalOpen    bool   `json:"modal_open" yaml:"modal_open"`
	StartEnabled bool   `json:"start_enabled" yaml:"start_enabled"`
	StopEnabled  bool   `json:"stop_enabled" yaml:"stop_enabled"`
	Status       string `json:"status" yaml:"status"`
}

type Snapshot struct {
	State    State
	Controls Controls
	Version  uint64
}
