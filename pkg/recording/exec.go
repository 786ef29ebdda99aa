package recording

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultRecorderCommand records the default PulseAudio source as webm/opus on
// stdout.
var DefaultRecorderCommand = []string{
	"ffmpeg", "-hide_banner", "-loglevel", "error",
	"-f", "pulse", "-i", "default",
	"-c:a", "libopus", "-f", "webm", "pipe:1",
}

const defaultChunkSize = 16 * 1024

// ExecCapturer captures audio from an external recorder writing the encoded
// stream to stdout. Stop sends an interrupt so the recorder can finish the
// container, and kills it after KillAfter.
type ExecCapturer struct {
	Command   []string
	ChunkSize int
	KillAfter time.Duration
}

var _ Capturer = &ExecCapturer{}

func (e *ExecCapturer) Open(ctx context.Context) (Handle, error) {
	argv := e.Command
	if len(argv) == 0 {
		argv = DefaultRecorderCommand
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, errors.Wrapf(err, "recorder %q not found", argv[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "recorder stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start recorder %q", argv[0])
	}

	h := &execHandle{
		cmd:       cmd,
		chunks:    make(chan []byte, 16),
		chunkSize: e.ChunkSize,
		killAfter: e.KillAfter,
		exited:    make(chan struct{}),
	}
	if h.chunkSize <= 0 {
		h.chunkSize = defaultChunkSize
	}
	if h.killAfter <= 0 {
		h.killAfter = 3 * time.Second
	}
	h.active.Store(true)
	go h.pump(stdout)
	log.Debug().Str("component", "recording").Strs("argv", argv).Int("pid", cmd.Process.Pid).Msg("recorder started")
	return h, nil
}

type execHandle struct {
	cmd       *exec.Cmd
	chunks    chan []byte
	chunkSize int
	killAfter time.Duration
	active    atomic.Bool
	exited    chan struct{}
	stopOnce  sync.Once
}

func (h *execHandle) Chunks() <-chan []byte {
	return h.chunks
}

func (h *execHandle) Active() bool {
	return h.active.Load()
}

func (h *execHandle) pump(r io.Reader) {
	defer close(h.chunks)
	for {
		buf := make([]byte, h.chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			h.chunks <- buf[:n]
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("component", "recording").Msg("recorder stream ended")
			}
			break
		}
	}
	if err := h.cmd.Wait(); err != nil {
		log.Debug().Err(err).Str("component", "recording").Msg("recorder exited")
	}
	h.active.Store(false)
	close(h.exited)
}

func (h *execHandle) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		if !h.Active() {
			return
		}
		if serr := h.cmd.Process.Signal(os.Interrupt); serr != nil && !errors.Is(serr, os.ErrProcessDone) {
			err = errors.Wrap(serr, "interrupt recorder")
		}
		go func() {
			select {
			case <-h.exited:
			case <-time.After(h.killAfter):
				log.Warn().Str("component", "recording").Msg("recorder ignored interrupt, killing it")
				_ = h.cmd.Process.Kill()
			}
		}()
	})
	return err
}
