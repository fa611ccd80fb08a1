// Package gps reads NMEA GGA/RMC from a serial GNSS receiver and publishes the
// latest fix. A missing or broken receiver never stops the process; callers
// simply see an invalid fix.
package gps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"subsurvey/internal/serialport"
)

type Config struct {
	Enable bool

	// Device may be empty to auto-detect.
	Device string
	Baud   int

	// StaleAfter marks a fix stale when no sentence refreshed it. Zero means 5s.
	StaleAfter time.Duration
}

// Fix is the most recent position solution.
type Fix struct {
	Valid bool `json:"valid"`
	Stale bool `json:"stale,omitempty"`

	Lat        float64  `json:"lat,omitempty"`
	Lon        float64  `json:"lon,omitempty"`
	AltM       *float64 `json:"alt_m,omitempty"`
	HeadingDeg *float64 `json:"heading_deg,omitempty"`

	Quality    int       `json:"quality,omitempty"`
	Satellites int       `json:"satellites,omitempty"`
	At         time.Time `json:"at,omitempty"`
}

// Usable reports a valid, fresh fix.
func (f Fix) Usable() bool { return f.Valid && !f.Stale }

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Device  string `json:"device,omitempty"`
	Baud    int    `json:"baud,omitempty"`

	Fix Fix `json:"fix"`

	LastError string `json:"last_error,omitempty"`
}

var openPortFn = func(cfg serialport.Config) (io.ReadCloser, string, error) {
	return serialport.Open(cfg)
}

type Service struct {
	cfg Config
	now func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) *Service {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}
	s := &Service{cfg: cfg, now: time.Now}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	port, device, err := openPortFn(serialport.Config{Device: s.cfg.Device, Baud: s.cfg.Baud, ReadTimeout: 500 * time.Millisecond})
	if err != nil {
		s.storeError(err.Error())
		return err
	}
	s.closer = port

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.last.Store(Snapshot{Enabled: true, Device: device, Baud: s.cfg.Baud})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = port.Close() }()
		log.Printf("gps enabled device=%s baud=%d", device, s.cfg.Baud)
		if err := s.consume(childCtx, port); err != nil {
			s.storeError(fmt.Sprintf("gps read stopped: %v", err))
			log.Printf("gps read stopped: %v", err)
		}
	}()
	return nil
}

// consume reads sentences until ctx ends or r fails. Zero-length reads are
// read timeouts and are not treated as EOF.
func (s *Service) consume(ctx context.Context, r io.Reader) error {
	var tr tracker
	buf := make([]byte, 256)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				s.handleLine(&tr, string(bytes.TrimSpace(pending[:i])))
				pending = pending[i+1:]
			}
			// NMEA sentences are < 83 bytes; anything longer is noise.
			if len(pending) > 1024 {
				pending = pending[:0]
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Service) handleLine(tr *tracker, line string) {
	if line == "" || line[0] != '$' {
		return
	}
	sent, err := parseSentence(line)
	if err != nil {
		s.storeError(err.Error())
		return
	}
	if !tr.apply(s.now().UTC(), sent) {
		return
	}
	cur := s.stored()
	cur.Fix = tr.fix()
	s.last.Store(cur)
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

// Snapshot returns the latest state with fix staleness evaluated now.
func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := s.stored()
	if snap.Fix.Valid && s.now().Sub(snap.Fix.At) > s.cfg.StaleAfter {
		snap.Fix.Stale = true
	}
	return snap
}

// Fix is shorthand for Snapshot().Fix.
func (s *Service) Fix() Fix { return s.Snapshot().Fix }

func (s *Service) stored() Snapshot {
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) storeError(msg string) {
	cur := s.stored()
	cur.LastError = msg
	s.last.Store(cur)
}
