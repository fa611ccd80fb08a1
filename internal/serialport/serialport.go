// Package serialport opens raw 8N1 serial devices for line-oriented links.
//
// Reads on a returned port never block longer than the configured read
// timeout; a timeout is reported as a zero-length read with a nil error so a
// single cooperative loop can poll it.
package serialport

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Config describes a serial device.
type Config struct {
	Device string
	Baud   int

	// ReadTimeout bounds each Read. Zero means 100ms.
	ReadTimeout time.Duration
}

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser
}

var openFn = openPlatform

// Open opens cfg.Device. An empty device is auto-detected.
func Open(cfg Config) (Port, string, error) {
	device := strings.TrimSpace(cfg.Device)
	if device == "" {
		device = AutoDetect()
		if device == "" {
			return nil, "", fmt.Errorf("serial auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	p, err := openFn(device, baud, timeout)
	if err != nil {
		return nil, device, fmt.Errorf("serial open failed device=%s baud=%d: %w", device, baud, err)
	}
	return p, device, nil
}

// AutoDetect returns the first USB serial device node present, or "".
func AutoDetect() string {
	candidates := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
