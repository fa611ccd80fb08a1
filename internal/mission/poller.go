package mission

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Fetcher fetches the mission settings. *Client satisfies it.
type Fetcher interface {
	FetchSettings(ctx context.Context) (Settings, error)
}

type PollerOptions struct {
	Interval time.Duration

	// Commands, if set, runs any operator command carried by a fetch.
	Commands *Commands

	// OnExploreOff runs on the polling goroutine when explore turns from
	// true to false.
	OnExploreOff func(ctx context.Context)
}

// PollSnapshot describes the polling health.
type PollSnapshot struct {
	OK        bool      `json:"ok"`
	LastOK    time.Time `json:"last_ok,omitempty"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Settings  Settings  `json:"settings"`
}

// Poller fetches settings periodically. Only successful fetches are
// published; a slow consumer sees the newest one.
type Poller struct {
	fetch Fetcher
	opts  PollerOptions

	out         chan Settings
	prevExplore bool
	seen        bool

	last atomic.Value // PollSnapshot
}

func NewPoller(f Fetcher, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	p := &Poller{fetch: f, opts: opts, out: make(chan Settings, 1)}
	p.last.Store(PollSnapshot{Settings: Defaults()})
	return p
}

// Updates delivers fetched settings.
func (p *Poller) Updates() <-chan Settings { return p.out }

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		_ = p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// PollOnce performs one fetch and publishes it on success.
func (p *Poller) PollOnce(ctx context.Context) error {
	st, err := p.fetch.FetchSettings(ctx)
	snap := p.Snapshot()
	if err != nil {
		snap.OK = false
		snap.Failures++
		snap.LastError = err.Error()
		p.last.Store(snap)
		if snap.Failures == 1 || snap.Failures%30 == 0 {
			log.Printf("mission poll failed failures=%d: %v", snap.Failures, err)
		}
		return err
	}
	snap.OK = true
	snap.LastOK = time.Now().UTC()
	snap.LastError = ""
	snap.Settings = st
	p.last.Store(snap)

	p.publish(st)

	if p.seen && p.prevExplore && !st.Explore && p.opts.OnExploreOff != nil {
		log.Printf("mission explore disabled")
		p.opts.OnExploreOff(ctx)
	}
	p.prevExplore = st.Explore
	p.seen = true

	if p.opts.Commands != nil {
		p.opts.Commands.Handle(ctx, st.Command)
	}
	return nil
}

func (p *Poller) publish(st Settings) {
	for {
		select {
		case p.out <- st:
			return
		default:
		}
		select {
		case <-p.out:
		default:
		}
	}
}

// Snapshot is safe from any goroutine.
func (p *Poller) Snapshot() PollSnapshot {
	if p == nil {
		return PollSnapshot{}
	}
	return p.last.Load().(PollSnapshot)
}
