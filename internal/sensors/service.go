// Package sensors samples the hull leak probe and the cabin climate sensor in
// the background and publishes the latest readings.
package sensors

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"subsurvey/internal/gpio"
)

type LeakConfig struct {
	Enable        bool
	Chip          string
	Pin           int
	ActiveHigh    bool
	SamplePeriod  time.Duration
	DebounceCount int
}

type ClimateConfig struct {
	Enable bool
	Dir    string
	Period time.Duration
}

type Config struct {
	Leak    LeakConfig
	Climate ClimateConfig
}

type Snapshot struct {
	LeakEnabled bool       `json:"leak_enabled"`
	Leak        bool       `json:"leak"`
	LeakAt      *time.Time `json:"leak_at,omitempty"`

	ClimateEnabled bool     `json:"climate_enabled"`
	Climate        *Climate `json:"climate,omitempty"`

	CPUTempC *float64 `json:"cpu_temp_c,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

var openLeakLineFn = gpio.OpenInput

type Service struct {
	cfg Config

	// OnLeak runs once, on the sampling goroutine, when a leak latches.
	OnLeak func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	last atomic.Value // Snapshot
}

func New(cfg Config) *Service {
	if cfg.Leak.SamplePeriod <= 0 {
		cfg.Leak.SamplePeriod = 200 * time.Millisecond
	}
	if cfg.Climate.Period <= 0 {
		// DHT11 reads fail if polled faster than ~2s.
		cfg.Climate.Period = 3 * time.Second
	}
	s := &Service{cfg: cfg}
	s.last.Store(Snapshot{LeakEnabled: cfg.Leak.Enable, ClimateEnabled: cfg.Climate.Enable})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sensors service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	var firstErr error
	if s.cfg.Leak.Enable {
		lc := s.cfg.Leak
		line, err := openLeakLineFn(gpio.Config{
			Chip:      lc.Chip,
			Pin:       lc.Pin,
			ActiveLow: !lc.ActiveHigh,
			Bias:      leakBias(lc.ActiveHigh),
			Consumer:  "subsurvey-leak",
		})
		if err != nil {
			firstErr = fmt.Errorf("leak sensor init failed: %w", err)
			s.setErrorLocked(firstErr.Error())
		} else {
			det := NewLeakDetector(line.Value, lc.SamplePeriod, lc.DebounceCount)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { _ = line.Close() }()
				log.Printf("leak sensor enabled pin=%d debounce=%d", lc.Pin, lc.DebounceCount)
				s.runLeak(childCtx, det)
			}()
		}
	}

	// The climate loop always runs for the CPU temperature.
	if s.cfg.Climate.Enable {
		log.Printf("climate sensor enabled dir=%s", s.cfg.Climate.Dir)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runClimate(childCtx)
	}()
	return firstErr
}

func leakBias(activeHigh bool) gpio.Bias {
	if activeHigh {
		return gpio.BiasPullDown
	}
	return gpio.BiasPullUp
}

func (s *Service) runLeak(ctx context.Context, det *LeakDetector) {
	t := time.NewTicker(s.cfg.Leak.SamplePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.sampleLeak(det, now)
		}
	}
}

func (s *Service) sampleLeak(det *LeakDetector, now time.Time) {
	fired, err := det.Update(now)
	if err != nil {
		s.setError(fmt.Sprintf("leak sample failed: %v", err))
		return
	}
	if !fired {
		return
	}
	log.Printf("leak detected pin=%d", s.cfg.Leak.Pin)
	s.mu.Lock()
	cur := s.Snapshot()
	at := now.UTC()
	cur.Leak = true
	cur.LeakAt = &at
	s.last.Store(cur)
	s.mu.Unlock()
	if s.OnLeak != nil {
		s.OnLeak()
	}
}

func (s *Service) runClimate(ctx context.Context) {
	s.sampleClimate(time.Now())
	t := time.NewTicker(s.cfg.Climate.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.sampleClimate(now)
		}
	}
}

// sampleClimate keeps the last good reading when a read fails. A missing
// CPU sensor is not an error.
func (s *Service) sampleClimate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	if v, err := ReadCPUTempC(); err == nil {
		cur.CPUTempC = &v
	}
	if s.cfg.Climate.Enable {
		c, err := ReadClimate(s.cfg.Climate.Dir, now.UTC())
		if err != nil {
			cur.LastError = fmt.Sprintf("climate read failed: %v", err)
		} else {
			cur.Climate = &c
		}
	}
	s.last.Store(cur)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	s.last.Store(cur)
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}
