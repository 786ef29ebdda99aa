// Package playback plays reply audio with an external player.
package playback

import (
	"context"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error"}

// ExecPlayer runs Command with the audio URL appended. Starting a playback
// stops the one in progress, so replies never overlap.
type ExecPlayer struct {
	Command []string

	mu      sync.Mutex
	current *exec.Cmd
	done    chan struct{}
}

func NewExecPlayer(command []string) *ExecPlayer {
	if len(command) == 0 {
		command = DefaultPlayerCommand
	}
	return &ExecPlayer{Command: command}
}

// Play returns once the player started. The player outlives ctx only until
// the next Play or Stop.
func (p *ExecPlayer) Play(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("empty audio url")
	}
	if _, err := exec.LookPath(p.Command[0]); err != nil {
		return errors.Wrapf(err, "player %q not found", p.Command[0])
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	args := append(append([]string{}, p.Command[1:]...), url)
	cmd := exec.Command(p.Command[0], args...)
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start player")
	}
	done := make(chan struct{})
	p.current, p.done = cmd, done
	log.Debug().Str("component", "playback").Str("url", url).Int("pid", cmd.Process.Pid).Msg("playback started")

	go func() {
		defer close(done)
		err := cmd.Wait()
		p.mu.Lock()
		if p.current == cmd {
			p.current = nil
		}
		p.mu.Unlock()
		if err != nil {
			log.Debug().Err(err).Str("component", "playback").Msg("player exited")
		}
	}()
	return nil
}

// Stop kills the playback in progress, if any.
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Wait blocks until the current playback ends or ctx is done.
func (p *ExecPlayer) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ExecPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

func (p *ExecPlayer) stopLocked() {
	if p.current == nil || p.current.Process == nil {
		return
	}
	if err := p.current.Process.Kill(); err != nil {
		log.Debug().Err(err).Str("component", "playback").Msg("failed to stop previous playback")
	}
	p.current = nil
}
