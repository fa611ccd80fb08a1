//go:build linux

package serialport

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// termiosPort wraps the fd so that a VTIME expiry (read returns 0, nil) is
// not turned into io.EOF by os.File.
type termiosPort struct {
	f *os.File
}

func (p *termiosPort) Read(b []byte) (int, error) {
	n, err := unix.Read(int(p.f.Fd()), b)
	if err == unix.EINTR || err == unix.EAGAIN {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *termiosPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *termiosPort) Close() error                { return p.f.Close() }

func openPlatform(path string, baud int, timeout time.Duration) (Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// VMIN=0: return whatever arrived once VTIME (deciseconds) expires.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = deciseconds(timeout)

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		return nil, fmt.Errorf("os.NewFile failed")
	}
	ok = true
	return &termiosPort{f: f}, nil
}

func deciseconds(d time.Duration) uint8 {
	ds := d / (100 * time.Millisecond)
	if ds < 1 {
		ds = 1
	}
	if ds > 255 {
		ds = 255
	}
	return uint8(ds)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
