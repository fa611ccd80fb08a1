// Package camera captures stills with the Raspberry Pi camera CLI and stores
// them in a local photo directory.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"subsurvey/internal/gpio"
)

// Newer Pi OS images ship rpicam-still; older ones only libcamera-still.
var defaultCommands = []string{"rpicam-still", "libcamera-still"}

type Config struct {
	PhotoDir string
	// Command overrides the capture binary.
	Command string
	Timeout time.Duration

	// FlashPin, when > 0, is driven high for the duration of a capture.
	FlashPin  int
	FlashChip string
}

type Snapshot struct {
	Command   string    `json:"command,omitempty"`
	PhotoDir  string    `json:"photo_dir"`
	Captures  uint64    `json:"captures"`
	Failures  uint64    `json:"failures"`
	LastPhoto string    `json:"last_photo,omitempty"`
	LastAt    time.Time `json:"last_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Output    []string  `json:"output_tail,omitempty"`
}

var (
	lookPathFn  = exec.LookPath
	openFlashFn = gpio.OpenOutput
	runFn       = func(ctx context.Context, bin string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, bin, args...).CombinedOutput()
	}
)

// FindCommand resolves the capture binary, preferring preferred if set.
func FindCommand(preferred string) (string, error) {
	candidates := defaultCommands
	if p := strings.TrimSpace(preferred); p != "" {
		candidates = []string{p}
	}
	for _, c := range candidates {
		if path, err := lookPathFn(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("camera: none of %s found in PATH", strings.Join(candidates, ", "))
}

type Camera struct {
	cfg   Config
	bin   string
	flash gpio.Line

	mu   sync.Mutex
	snap Snapshot
	tail *tailBuffer
}

func New(cfg Config) (*Camera, error) {
	if cfg.PhotoDir == "" {
		return nil, fmt.Errorf("camera photo dir is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if err := os.MkdirAll(cfg.PhotoDir, 0o755); err != nil {
		return nil, fmt.Errorf("camera photo dir: %w", err)
	}
	bin, err := FindCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	c := &Camera{
		cfg:  cfg,
		bin:  bin,
		snap: Snapshot{Command: bin, PhotoDir: cfg.PhotoDir},
		tail: newTailBuffer(20, 512),
	}
	if cfg.FlashPin > 0 {
		line, err := openFlashFn(gpio.Config{Chip: cfg.FlashChip, Pin: cfg.FlashPin, Consumer: "subsurvey-flash"})
		if err != nil {
			// A dark photo beats no photo.
			log.Printf("camera flash init failed pin=%d: %v", cfg.FlashPin, err)
		} else {
			c.flash = line
		}
	}
	return c, nil
}

const partSuffix = ".part"

// FileName is the photo name for a capture at t.
func FileName(t time.Time) string {
	return "img_" + t.Format("20060102_150405") + ".jpg"
}

// Capture takes one photo and returns its path.
func (c *Camera) Capture(ctx context.Context, now time.Time) (string, error) {
	if c == nil {
		return "", fmt.Errorf("camera is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.uniquePathLocked(now)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.flash != nil {
		_ = c.flash.Set(true)
	}
	// Written under a .part name and renamed when complete. ImportDir skips
	// .part files.
	part := path + partSuffix
	out, err := runFn(ctx, c.bin, "-n", "-e", "jpg", "-o", part)
	if c.flash != nil {
		_ = c.flash.Set(false)
	}
	c.recordOutputLocked(out)

	if err == nil {
		if _, serr := os.Stat(part); serr != nil {
			err = fmt.Errorf("no file written: %w", serr)
		} else if rerr := os.Rename(part, path); rerr != nil {
			err = fmt.Errorf("finish photo: %w", rerr)
		}
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", c.cfg.Timeout)
		}
		err = fmt.Errorf("camera capture: %w", err)
		c.snap.Failures++
		c.snap.LastError = err.Error()
		_ = os.Remove(part)
		return "", err
	}

	c.snap.Captures++
	c.snap.LastPhoto = path
	c.snap.LastAt = now.UTC()
	c.snap.LastError = ""
	if fi, serr := os.Stat(path); serr == nil {
		log.Printf("camera captured path=%s size=%s", path, humanize.IBytes(uint64(fi.Size())))
	}
	return path, nil
}

func (c *Camera) uniquePathLocked(now time.Time) string {
	base := FileName(now)
	path := filepath.Join(c.cfg.PhotoDir, base)
	stem := strings.TrimSuffix(base, ".jpg")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(c.cfg.PhotoDir, fmt.Sprintf("%s_%d.jpg", stem, i))
	}
}

func (c *Camera) recordOutputLocked(out []byte) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			c.tail.add(line)
		}
	}
}

// PulseFlash lights the flash for d, or until ctx is done.
func (c *Camera) PulseFlash(ctx context.Context, d time.Duration) error {
	if c == nil || c.flash == nil {
		return fmt.Errorf("flash not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.flash.Set(true); err != nil {
		return fmt.Errorf("flash on: %w", err)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	if err := c.flash.Set(false); err != nil {
		return fmt.Errorf("flash off: %w", err)
	}
	return nil
}

// PhotoDir returns the capture directory.
func (c *Camera) PhotoDir() string { return c.cfg.PhotoDir }

func (c *Camera) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Output = c.tail.snapshot()
	return s
}

func (c *Camera) Close() error {
	if c == nil || c.flash == nil {
		return nil
	}
	_ = c.flash.Set(false)
	err := c.flash.Close()
	c.flash = nil
	return err
}
