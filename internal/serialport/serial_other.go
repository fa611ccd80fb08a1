//go:build !linux

package serialport

import (
	"time"

	"go.bug.st/serial"
)

func openPlatform(path string, baud int, timeout time.Duration) (Port, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
