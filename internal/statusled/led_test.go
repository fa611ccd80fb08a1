package statusled

import (
	"errors"
	"testing"

	"subsurvey/internal/gpio"
)

type fakeLine struct {
	pin    int
	writes []bool
	closed bool
}

func (f *fakeLine) Value() (bool, error) {
	if len(f.writes) == 0 {
		return false, nil
	}
	return f.writes[len(f.writes)-1], nil
}
func (f *fakeLine) Set(v bool) error { f.writes = append(f.writes, v); return nil }
func (f *fakeLine) Close() error     { f.closed = true; return nil }

func withFakeLines(t *testing.T) map[int]*fakeLine {
	t.Helper()
	prev := openOutputFn
	t.Cleanup(func() { openOutputFn = prev })
	lines := map[int]*fakeLine{}
	openOutputFn = func(cfg gpio.Config) (gpio.Line, error) {
		l := &fakeLine{pin: cfg.Pin}
		lines[cfg.Pin] = l
		return l, nil
	}
	return lines
}

func TestColorFor(t *testing.T) {
	cases := map[State]Color{
		Awaiting:       {B: true},
		Calibrating:    {B: true},
		Deployed:       {G: true},
		Warning:        {R: true},
		State("weird"): {},
	}
	for s, want := range cases {
		if got := ColorFor(s); got != want {
			t.Fatalf("ColorFor(%q)=%+v want %+v", s, got, want)
		}
	}
}

func TestDecide(t *testing.T) {
	if got := Decide(true, 0, 50, true); got != Warning {
		t.Fatalf("leak: got %s", got)
	}
	if got := Decide(false, 50, 50, true); got != Warning {
		t.Fatalf("failures: got %s", got)
	}
	if got := Decide(false, 49, 50, true); got != Deployed {
		t.Fatalf("exploring: got %s", got)
	}
	if got := Decide(false, 0, 50, false); got != Awaiting {
		t.Fatalf("idle: got %s", got)
	}
}

func TestLED_WritesOnlyOnChange(t *testing.T) {
	lines := withFakeLines(t)
	led, err := Open(Config{RedPin: 17, GreenPin: 27, BluePin: 22, ActiveHigh: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = led.Set(Deployed)
	_ = led.Set(Deployed)
	_ = led.Set(Warning)

	if n := len(lines[27].writes); n != 2 {
		t.Fatalf("green writes=%d want 2", n)
	}
	if !lines[17].writes[1] || lines[27].writes[1] {
		t.Fatalf("expected red on green off: r=%v g=%v", lines[17].writes, lines[27].writes)
	}
	if led.State() != Warning {
		t.Fatalf("state=%s want warning", led.State())
	}

	if err := led.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for pin, l := range lines {
		if !l.closed || l.writes[len(l.writes)-1] {
			t.Fatalf("pin %d not off and closed", pin)
		}
	}
}

func TestOpen_ReleasesOnFailure(t *testing.T) {
	lines := withFakeLines(t)
	inner := openOutputFn
	openOutputFn = func(cfg gpio.Config) (gpio.Line, error) {
		if cfg.Pin == 22 {
			return nil, errors.New("busy")
		}
		return inner(cfg)
	}
	if _, err := Open(Config{RedPin: 17, GreenPin: 27, BluePin: 22}); err == nil {
		t.Fatalf("expected error")
	}
	if !lines[17].closed || !lines[27].closed {
		t.Fatalf("opened lines not released")
	}
}

func TestLED_NilIsNoop(t *testing.T) {
	var led *LED
	if err := led.Set(Warning); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if led.State() != Off || led.Close() != nil {
		t.Fatalf("nil LED misbehaved")
	}
}
