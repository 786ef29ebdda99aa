package recording

import (
	"bytes"
	"context"

	"github.com/rs/zerolog/log"
)

// Capturer opens the capture device. Open may block while the device or the
// user grants access.
type Capturer interface {
	Open(ctx context.Context) (Handle, error)
}

// Handle is an open capture. Chunks is closed once the capture has delivered
// its last chunk, either after Stop or because the source ended.
type Handle interface {
	Chunks() <-chan []byte
	Stop() error
	Active() bool
}

// capture collects the chunks of one handle. done is closed when the payload
// is assembled.
type capture struct {
	handle  Handle
	done    chan struct{}
	payload []byte
}

func newCapture(h Handle) *capture {
	c := &capture{handle: h, done: make(chan struct{})}
	go c.collect()
	return c
}

func (c *capture) collect() {
	var buf bytes.Buffer
	for chunk := range c.handle.Chunks() {
		buf.Write(chunk)
	}
	c.payload = buf.Bytes()
	close(c.done)
}

// finalize stops the handle and waits for the assembled payload.
func (c *capture) finalize(ctx context.Context) ([]byte, error) {
	if err := c.handle.Stop(); err != nil {
		log.Warn().Err(err).Str("component", "recording").Msg("capture did not stop cleanly")
	}
	select {
	case <-c.done:
		return c.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// discard stops the handle, waits for it to release the device and drops
// whatever was captured.
func (c *capture) discard() {
	if c.handle.Active() {
		if err := c.handle.Stop(); err != nil {
			log.Warn().Err(err).Str("component", "recording").Msg("failed to stop previous capture")
		}
	}
	<-c.done
	c.payload = nil
}
