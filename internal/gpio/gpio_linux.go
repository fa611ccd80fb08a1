//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

func chipCandidates(preferred string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	if preferred != "" {
		if !strings.HasPrefix(preferred, "/") {
			preferred = filepath.Join("/dev", preferred)
		}
		add(preferred)
	}
	// Pi 5 kernels may expose the header on gpiochip4.
	add("/dev/gpiochip0")
	add("/dev/gpiochip4")
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			add(filepath.Join("/dev", e.Name()))
		}
	}
	return out
}

func request(cfg Config, dir gpiocdev.LineReqOption) (Line, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "subsurvey"
	}
	opts := []gpiocdev.LineReqOption{dir, gpiocdev.WithConsumer(consumer)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	switch cfg.Bias {
	case BiasPullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case BiasPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	}

	name := cfg.lineName()
	for _, path := range chipCandidates(cfg.Chip) {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &cdevLine{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("gpio: line %q not found (or busy)", name)
}

// OpenInput requests cfg.Pin as an input.
func OpenInput(cfg Config) (Line, error) {
	return request(cfg, gpiocdev.AsInput)
}

// OpenOutput requests cfg.Pin as an output driven inactive.
func OpenOutput(cfg Config) (Line, error) {
	return request(cfg, gpiocdev.AsOutput(0))
}

type cdevLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (l *cdevLine) Value() (bool, error) {
	if l == nil || l.line == nil {
		return false, fmt.Errorf("gpio: line closed")
	}
	v, err := l.line.Value()
	return v != 0, err
}

func (l *cdevLine) Set(active bool) error {
	if l == nil || l.line == nil {
		return fmt.Errorf("gpio: line closed")
	}
	v := 0
	if active {
		v = 1
	}
	return l.line.SetValue(v)
}

func (l *cdevLine) Close() error {
	if l == nil || l.line == nil {
		return nil
	}
	err := l.line.Close()
	l.line = nil
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return err
}
