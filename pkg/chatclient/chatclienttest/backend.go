// Package chatclienttest provides an in-process backend for tests.
package chatclienttest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
)

// Backend is a fake of the assistant backend. Every request is recorded.
type Backend struct {
	Server *httptest.Server

	mu           sync.Mutex
	chatMessages []string
	audioUploads [][]byte
	audioNames   []string
	clearCalls   int

	chatHandler  func(message string) (int, interface{})
	audioHandler func(payload []byte) (int, interface{})
	clearHandler func() int
	documents    map[string][]byte
}

func NewBackend() *Backend {
	b := &Backend{
		chatHandler: func(message string) (int, interface{}) {
			return http.StatusOK, chatclient.ChatResponse{Response: "eco: " + message}
		},
		audioHandler: func(payload []byte) (int, interface{}) {
			return http.StatusOK, chatclient.AudioResponse{Transcription: "hola", Response: "<b>respuesta</b>"}
		},
		clearHandler: func() int { return http.StatusOK },
		documents:    map[string][]byte{},
	}

	r := chi.NewRouter()
	r.Post("/chat", b.handleChat)
	r.Post("/audio", b.handleAudio)
	r.Post("/confirm_clear", b.handleClear)
	r.Get("/download_form", b.handleDocument("formato_denuncia.pdf"))
	r.Get("/download_sue", b.handleDocument("denuncia.pdf"))
	b.Server = httptest.NewServer(r)
	return b
}

func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) Close() {
	b.Server.Close()
}

// OnChat replaces the /chat handler. The returned body is encoded as JSON.
func (b *Backend) OnChat(h func(message string) (int, interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatHandler = h
}

func (b *Backend) OnAudio(h func(payload []byte) (int, interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioHandler = h
}

func (b *Backend) OnConfirmClear(h func() int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearHandler = h
}

// SetDocument serves doc on the given download path.
func (b *Backend) SetDocument(path string, doc []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents[path] = doc
}

func (b *Backend) ChatMessages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.chatMessages...)
}

func (b *Backend) AudioUploads() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.audioUploads...)
}

func (b *Backend) AudioFilenames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.audioNames...)
}

func (b *Backend) ClearCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clearCalls
}

func (b *Backend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	b.mu.Lock()
	b.chatMessages = append(b.chatMessages, req.Message)
	h := b.chatHandler
	b.mu.Unlock()

	status, body := h(req.Message)
	writeJSON(w, status, body)
}

func (b *Backend) handleAudio(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile(chatclient.AudioField)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No se recibió ningún archivo de audio."})
		return
	}
	defer func() { _ = file.Close() }()
	payload, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	b.mu.Lock()
	b.audioUploads = append(b.audioUploads, payload)
	b.audioNames = append(b.audioNames, header.Filename)
	h := b.audioHandler
	b.mu.Unlock()

	status, body := h(payload)
	writeJSON(w, status, body)
}

func (b *Backend) handleClear(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.clearCalls++
	h := b.clearHandler
	b.mu.Unlock()

	status := h()
	writeJSON(w, status, map[string]string{"response": "Memoria del chat eliminada. 🧹"})
}

func (b *Backend) handleDocument(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		doc, ok := b.documents[r.URL.Path]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "No se ha generado ningún archivo en la sesión."})
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		_, _ = w.Write(doc)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
