//go:build !linux

package gpio

import "fmt"

func OpenInput(cfg Config) (Line, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func OpenOutput(cfg Config) (Line, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}
