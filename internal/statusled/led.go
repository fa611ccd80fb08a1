// Package statusled shows the unit's mission state on an RGB LED.
package statusled

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"subsurvey/internal/gpio"
)

type State string

const (
	Off         State = "off"
	Awaiting    State = "awaiting"
	Deployed    State = "deployed"
	Warning     State = "warning"
	Calibrating State = "calibrating"
)

type Color struct{ R, G, B bool }

// ColorFor maps a state to a colour. Unknown states are dark.
func ColorFor(s State) Color {
	switch s {
	case Awaiting, Calibrating:
		return Color{B: true}
	case Deployed:
		return Color{G: true}
	case Warning:
		return Color{R: true}
	default:
		return Color{}
	}
}

// Decide picks the LED state for the current mission condition.
func Decide(leak bool, failurePercent, warnPercent int, exploring bool) State {
	if leak || (warnPercent > 0 && failurePercent >= warnPercent) {
		return Warning
	}
	if exploring {
		return Deployed
	}
	return Awaiting
}

type Config struct {
	Chip       string
	RedPin     int
	GreenPin   int
	BluePin    int
	ActiveHigh bool
}

var openOutputFn = gpio.OpenOutput

// LED drives three GPIO lines. A nil *LED accepts every call and does nothing.
type LED struct {
	mu    sync.Mutex
	lines [3]gpio.Line
	cur   State
	set   bool
}

func Open(cfg Config) (*LED, error) {
	l := &LED{}
	for i, pin := range []int{cfg.RedPin, cfg.GreenPin, cfg.BluePin} {
		line, err := openOutputFn(gpio.Config{
			Chip:      cfg.Chip,
			Pin:       pin,
			ActiveLow: !cfg.ActiveHigh,
			Consumer:  "subsurvey-led",
		})
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("statusled pin %d: %w", pin, err)
		}
		l.lines[i] = line
	}
	return l, nil
}

// Set shows state. The pins are only written when the state changes.
func (l *LED) Set(state State) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set && l.cur == state {
		return nil
	}
	if err := l.writeLocked(ColorFor(state)); err != nil {
		return err
	}
	if l.set {
		log.Printf("statusled state=%s prev=%s", state, l.cur)
	}
	l.cur = state
	l.set = true
	return nil
}

func (l *LED) writeLocked(c Color) error {
	var errs []error
	for i, on := range []bool{c.R, c.G, c.B} {
		if l.lines[i] == nil {
			continue
		}
		if err := l.lines[i].Set(on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns the last state shown.
func (l *LED) State() State {
	if l == nil {
		return Off
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.set {
		return Off
	}
	return l.cur
}

// Close turns the LED off and releases the lines.
func (l *LED) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.writeLocked(Color{})
	var errs []error
	for i, line := range l.lines {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
		l.lines[i] = nil
	}
	return errors.Join(errs...)
}
