// Package uploader drains the photo queue to the backend's image endpoint.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"subsurvey/internal/store"
)

// Queue is the persisted photo queue.
type Queue interface {
	PendingPhotos(limit int) ([]store.Photo, error)
	MarkUploaded(id string, at time.Time) error
	RecordUploadFailure(id string, reason string) error
	ImportDir(dir string) (int, error)
}

// Reacher answers whether the backend is reachable right now.
type Reacher interface {
	Reachable(ctx context.Context) bool
}

type Config struct {
	// BaseURL is the backend root; images go to <BaseURL>/upload_image/.
	BaseURL  string
	PhotoDir string
	Interval time.Duration
	Timeout  time.Duration
}

// Result summarizes one upload pass.
type Result struct {
	Skipped  bool   `json:"skipped,omitempty"`
	Uploaded int    `json:"uploaded"`
	Bytes    uint64 `json:"bytes"`
	Pending  int    `json:"pending"`
}

type Snapshot struct {
	Passes    uint64    `json:"passes"`
	Uploaded  uint64    `json:"uploaded"`
	Bytes     uint64    `json:"bytes"`
	LastPass  time.Time `json:"last_pass,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Uploader struct {
	cfg     Config
	queue   Queue
	reach   Reacher
	hc      *http.Client
	now     func() time.Time
	trigger chan struct{}

	// pass serializes RunOnce between the loop and on-demand callers.
	pass sync.Mutex

	mu   sync.Mutex
	snap Snapshot
}

func New(cfg Config, queue Queue, reach Reacher) *Uploader {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Uploader{
		cfg:     cfg,
		queue:   queue,
		reach:   reach,
		hc:      &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an upload pass without waiting for the next interval.
func (u *Uploader) Trigger() {
	if u == nil {
		return
	}
	select {
	case u.trigger <- struct{}{}:
	default:
	}
}

// Run uploads every interval and on Trigger until ctx is done.
func (u *Uploader) Run(ctx context.Context) {
	if u == nil {
		return
	}
	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-u.trigger:
		}
		if _, err := u.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("uploader: %v", err)
		}
	}
}

// RunOnce uploads pending photos oldest first, stopping at the first failure.
func (u *Uploader) RunOnce(ctx context.Context) (Result, error) {
	if u == nil {
		return Result{}, errors.New("uploader is nil")
	}
	u.pass.Lock()
	defer u.pass.Unlock()

	var res Result
	if u.reach != nil && !u.reach.Reachable(ctx) {
		res.Skipped = true
		return res, nil
	}
	if u.cfg.PhotoDir != "" {
		if n, err := u.queue.ImportDir(u.cfg.PhotoDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("uploader: import dir=%s: %v", u.cfg.PhotoDir, err)
		} else if n > 0 {
			log.Printf("uploader: queued untracked photos count=%d", n)
		}
	}

	pending, err := u.queue.PendingPhotos(0)
	if err != nil {
		return res, u.fail(fmt.Errorf("list pending: %w", err))
	}
	res.Pending = len(pending)

	var passErr error
	for _, p := range pending {
		size, err := u.upload(ctx, p.Path)
		if errors.Is(err, os.ErrNotExist) {
			// Gone from disk; nothing left to send.
			log.Printf("uploader: missing file path=%s; dropping", p.Path)
			_ = u.queue.MarkUploaded(p.ID, u.now())
			res.Pending--
			continue
		}
		if err != nil {
			if rerr := u.queue.RecordUploadFailure(p.ID, err.Error()); rerr != nil {
				log.Printf("uploader: record failure id=%s: %v", p.ID, rerr)
			}
			passErr = fmt.Errorf("upload %s: %w", filepath.Base(p.Path), err)
			break
		}
		if err := u.queue.MarkUploaded(p.ID, u.now()); err != nil {
			passErr = fmt.Errorf("mark uploaded %s: %w", p.ID, err)
			break
		}
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("uploader: remove path=%s: %v", p.Path, err)
		}
		res.Uploaded++
		res.Bytes += size
		res.Pending--
	}

	u.mu.Lock()
	u.snap.Passes++
	u.snap.Uploaded += uint64(res.Uploaded)
	u.snap.Bytes += res.Bytes
	u.snap.LastPass = u.now().UTC()
	if passErr == nil {
		u.snap.LastError = ""
	}
	u.mu.Unlock()

	if res.Uploaded > 0 {
		log.Printf("uploader: uploaded count=%d size=%s pending=%d", res.Uploaded, humanize.IBytes(res.Bytes), res.Pending)
	}
	if passErr != nil {
		return res, u.fail(passErr)
	}
	return res, nil
}

func (u *Uploader) fail(err error) error {
	u.mu.Lock()
	u.snap.LastError = err.Error()
	u.mu.Unlock()
	return err
}

func (u *Uploader) upload(ctx context.Context, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.BaseURL+"/upload_image/", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := u.hc.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	return uint64(fi.Size()), nil
}

func (u *Uploader) Snapshot() Snapshot {
	if u == nil {
		return Snapshot{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snap
}
