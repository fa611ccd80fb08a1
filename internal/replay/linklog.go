// Package replay records controller link traffic to a text log and plays a
// recorded log back as a link transport.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"subsurvey/internal/link"
)

// Log format: line-oriented text.
//
// - Blank lines and lines starting with '#' are ignored.
// - "START" resets the origin (next record time is relative to 0 again).
// - Data lines are <t_ns>,<rx|tx>,<line> where t_ns is nanoseconds since
//   START and line is the link line without its terminator.

type Record struct {
	At   time.Duration
	Dir  link.Direction
	Line string
}

// IsStart reports whether r is a START marker.
func (r Record) IsStart() bool { return r.Dir == "" }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		tsStr, rest, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("invalid replay line (missing comma): %q", line)
		}
		dirStr, payload, ok := strings.Cut(rest, ",")
		if !ok || payload == "" {
			return nil, fmt.Errorf("invalid replay line (empty field): %q", line)
		}
		dir := link.Direction(strings.TrimSpace(dirStr))
		if dir != link.RX && dir != link.TX {
			return nil, fmt.Errorf("invalid replay direction %q", dirStr)
		}

		tsNs, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid replay timestamp %q: %w", tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
		}
		recs = append(recs, Record{At: time.Duration(tsNs), Dir: dir, Line: payload})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile loads a recorded log from path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

type Writer struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	start   time.Time
	closed  bool
	errOnce sync.Once
}

// CreateWriter appends to path, starting a new segment.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteLine(now time.Time, dir link.Direction, line string) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s\n", d.Nanoseconds(), dir, line)
	return err
}

// Tap records a link line; it fits link.Options.Tap.
func (ww *Writer) Tap(dir link.Direction, line string) {
	if ww == nil {
		return
	}
	if err := ww.WriteLine(time.Now(), dir, line); err != nil {
		ww.errOnce.Do(func() { log.Printf("replay: record failed: %v", err) })
	}
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww == nil {
		return nil
	}
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
