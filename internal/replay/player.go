package replay

import (
	"errors"
	"io"
	"sync"
	"time"

	"subsurvey/internal/link"
)

// Player is a link transport that plays back the RX side of a recording
// with its original timing. Writes are accepted and discarded.
type Player struct {
	mu      sync.Mutex
	recs    []Record
	speed   float64
	loop    bool
	now     func() time.Time
	started time.Time
	origin  time.Duration
	idx     int
	pending []byte
	written int
}

// NewPlayer plays recs at speed (1.0 is real time).
func NewPlayer(recs []Record, speed float64, loop bool) (*Player, error) {
	if speed <= 0 {
		return nil, errors.New("speed must be > 0")
	}
	rx := 0
	for _, r := range recs {
		if r.Dir == link.RX {
			rx++
		}
	}
	if rx == 0 {
		return nil, errors.New("no rx records")
	}
	return &Player{recs: recs, speed: speed, loop: loop, now: time.Now}, nil
}

// Read returns every RX line that is due. It returns io.EOF once a
// non-looping recording is exhausted.
func (p *Player) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.started.IsZero() {
		p.started = now
	}
	elapsed := time.Duration(float64(now.Sub(p.started)) * p.speed)

	for len(p.pending) < len(b) {
		if p.idx >= len(p.recs) {
			if !p.loop {
				break
			}
			p.idx = 0
			p.started = now
			p.origin = 0
			elapsed = 0
		}
		r := p.recs[p.idx]
		if r.IsStart() {
			// Segments are played back to back.
			p.origin = r.At - elapsed
			p.idx++
			continue
		}
		if r.At-p.origin > elapsed {
			break
		}
		p.idx++
		if r.Dir == link.RX {
			p.pending = append(p.pending, r.Line...)
			p.pending = append(p.pending, '\n')
		}
	}

	if len(p.pending) == 0 {
		if !p.loop && p.idx >= len(p.recs) {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Player) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written++
	p.mu.Unlock()
	return len(b), nil
}

func (p *Player) Close() error { return nil }
