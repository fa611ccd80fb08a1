package link

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxLineBytes bounds an unterminated line before it is discarded.
const DefaultMaxLineBytes = 4096

// Direction tags a line passed to a Tap.
type Direction string

const (
	RX Direction = "rx"
	TX Direction = "tx"
)

// Options tunes a Codec.
type Options struct {
	MaxLineBytes int

	// Tap, if set, sees every complete received line and every sent line
	// (without terminator). It runs on the caller's goroutine.
	Tap func(dir Direction, line string)
}

// Snapshot is a point-in-time copy of codec counters.
type Snapshot struct {
	LinesRX      uint64 `json:"lines_rx"`
	FramesRX     uint64 `json:"frames_rx"`
	IgnoredRX    uint64 `json:"ignored_rx"`
	OverflowDrop uint64 `json:"overflow_drops"`
	LinesTX      uint64 `json:"lines_tx"`

	LastStatus string `json:"last_status,omitempty"`
	LastTX     string `json:"last_tx,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Codec frames a byte transport into lines. Poll and the Send methods must be
// called from a single goroutine; Snapshot is safe from any goroutine.
type Codec struct {
	rw   io.ReadWriter
	opts Options

	buf     []byte
	scratch []byte

	mu   sync.Mutex
	snap Snapshot
}

// NewCodec wraps a transport whose reads return within a bounded time.
func NewCodec(rw io.ReadWriter, opts Options) *Codec {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Codec{
		rw:      rw,
		opts:    opts,
		scratch: make([]byte, 512),
	}
}

// Poll performs one read and returns the STATUS frames completed by it, in
// arrival order. A read error is returned alongside any frames already
// extracted from buffered data.
func (c *Codec) Poll() ([]StatusFrame, error) {
	if c == nil || c.rw == nil {
		return nil, fmt.Errorf("link codec not initialised")
	}
	n, err := c.rw.Read(c.scratch)
	var frames []StatusFrame
	if n > 0 {
		for _, line := range c.Feed(c.scratch[:n]) {
			if fr, ok := c.accept(line); ok {
				frames = append(frames, fr)
			}
		}
	}
	if err != nil && err != io.EOF {
		err = fmt.Errorf("link read: %w", err)
		c.setError(err)
		return frames, err
	}
	return frames, nil
}

// Latest is Poll reduced to the most recent frame, or nil.
func (c *Codec) Latest() (*StatusFrame, error) {
	frames, err := c.Poll()
	if len(frames) == 0 {
		return nil, err
	}
	fr := frames[len(frames)-1]
	return &fr, err
}

// Feed appends raw bytes and returns the complete lines they finish, with a
// trailing '\r' stripped and empty lines removed. A partial tail stays
// buffered.
func (c *Codec) Feed(b []byte) []string {
	c.buf = append(c.buf, b...)
	var lines []string
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(c.buf[:i], []byte{'\r'})
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		c.buf = c.buf[i+1:]
	}
	if len(c.buf) > c.opts.MaxLineBytes {
		c.buf = c.buf[:0]
		c.mu.Lock()
		c.snap.OverflowDrop++
		c.mu.Unlock()
	}
	if len(c.buf) == 0 && cap(c.buf) > 4*c.opts.MaxLineBytes {
		c.buf = nil
	}
	return lines
}

// Buffered returns the length of the unterminated tail.
func (c *Codec) Buffered() int { return len(c.buf) }

func (c *Codec) accept(line string) (StatusFrame, bool) {
	if c.opts.Tap != nil {
		c.opts.Tap(RX, line)
	}
	fr, ok := ParseStatus(line)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.LinesRX++
	if !ok {
		c.snap.IgnoredRX++
		return StatusFrame{}, false
	}
	c.snap.FramesRX++
	c.snap.LastStatus = fr.Raw
	return fr, true
}

// SendGoto writes a GOTO command.
func (c *Codec) SendGoto(x, y, speed float64) error {
	return c.send(FormatGoto(x, y, speed))
}

// SendState writes a PI state report.
func (c *Codec) SendState(s HostState) error {
	return c.send(FormatState(s))
}

func (c *Codec) send(line string) error {
	if c == nil || c.rw == nil {
		return fmt.Errorf("link codec not initialised")
	}
	trimmed := line[:len(line)-1]
	if c.opts.Tap != nil {
		c.opts.Tap(TX, trimmed)
	}
	_, err := io.WriteString(c.rw, line)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("link write %q: %w", trimmed, err)
		c.snap.LastError = err.Error()
		return err
	}
	c.snap.LinesTX++
	c.snap.LastTX = trimmed
	return nil
}

func (c *Codec) setError(err error) {
	c.mu.Lock()
	c.snap.LastError = err.Error()
	c.mu.Unlock()
}

// Snapshot returns the codec counters.
func (c *Codec) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}
