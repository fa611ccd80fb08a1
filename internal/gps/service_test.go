package gps

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"subsurvey/internal/serialport"
)

// timeoutReader yields its data, then zero-length reads until closed.
type timeoutReader struct {
	r      io.Reader
	closed chan struct{}
	once   sync.Once
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == io.EOF {
		select {
		case <-t.closed:
			return 0, io.EOF
		case <-time.After(5 * time.Millisecond):
			return 0, nil
		}
	}
	return n, err
}

func (t *timeoutReader) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func TestService_DisabledIsNoop(t *testing.T) {
	s := New(Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Snapshot().Enabled || s.Fix().Valid {
		t.Fatalf("expected disabled, invalid")
	}
	s.Close()
}

func TestService_ReadsFixThroughTimeouts(t *testing.T) {
	prev := openPortFn
	t.Cleanup(func() { openPortFn = prev })

	data := "noise\r\n" + nmeaLine(ggaPayload) + "\r\n" + nmeaLine(rmcPayload) + "\r\n"
	port := &timeoutReader{r: strings.NewReader(data), closed: make(chan struct{})}
	openPortFn = func(cfg serialport.Config) (io.ReadCloser, string, error) {
		return port, "/dev/fake", nil
	}

	s := New(Config{Enable: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		fix := s.Fix()
		if fix.Valid && fix.HeadingDeg != nil {
			if fix.AltM == nil || *fix.AltM != 545.4 {
				t.Fatalf("alt=%v want 545.4", fix.AltM)
			}
			if !fix.Usable() {
				t.Fatalf("expected fresh fix")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for fix: %+v", s.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Snapshot().Device != "/dev/fake" {
		t.Fatalf("device=%q", s.Snapshot().Device)
	}
}

func TestService_OpenFailureIsReported(t *testing.T) {
	prev := openPortFn
	t.Cleanup(func() { openPortFn = prev })
	openPortFn = func(serialport.Config) (io.ReadCloser, string, error) {
		return nil, "", errors.New("no device")
	}

	s := New(Config{Enable: true})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if s.Snapshot().LastError != "no device" {
		t.Fatalf("last_error=%q", s.Snapshot().LastError)
	}
}

func TestSnapshot_MarksStaleFix(t *testing.T) {
	s := New(Config{Enable: true, StaleAfter: time.Second})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.last.Store(Snapshot{Enabled: true, Fix: Fix{Valid: true, At: base}})

	s.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	if s.Fix().Stale {
		t.Fatalf("fix should be fresh")
	}
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	if !s.Fix().Stale || s.Fix().Usable() {
		t.Fatalf("fix should be stale")
	}
}

func TestService_NilSafe(t *testing.T) {
	var s *Service
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	s.Close()
	if s.Snapshot().Enabled {
		t.Fatalf("expected zero snapshot")
	}
}
