package recording

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FileCapturer replays a recorded file as if it came from the device.
type FileCapturer struct {
	Path      string
	ChunkSize int
}

var _ Capturer = &FileCapturer{}

func (f *FileCapturer) Open(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read audio file %s", f.Path)
	}
	size := f.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	h := &fileHandle{chunks: make(chan []byte)}
	h.active.Store(true)
	go func() {
		defer h.active.Store(false)
		defer close(h.chunks)
		for len(data) > 0 {
			n := min(size, len(data))
			h.chunks <- data[:n]
			data = data[n:]
		}
	}()
	return h, nil
}

// fileHandle delivers the whole file; Stop does not truncate it.
type fileHandle struct {
	chunks chan []byte
	active atomic.Bool
}

func (h *fileHandle) Chunks() <-chan []byte { return h.chunks }
func (h *fileHandle) Active() bool          { return h.active.Load() }
func (h *fileHandle) Stop() error           { return nil }
