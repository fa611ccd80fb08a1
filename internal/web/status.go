package web

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status aggregates the runtime view served at /api/status. Components
// register a snapshot function once; it is called on every request.
type Status struct {
	startUnixNano int64
	ticks         uint64
	lastTickNano  int64
	mode          atomic.Value // string
	device        atomic.Value // string

	mu      sync.RWMutex
	sources map[string]func() any
}

func NewStatus() *Status {
	s := &Status{sources: map[string]func() any{}}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.device.Store("")
	return s
}

// SetStatic records the link mode ("serial", "sim" or "replay") and the
// device in use.
func (s *Status) SetStatic(mode, device string) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if device != "" {
		s.device.Store(device)
	}
}

// Register adds a named component snapshot. Re-registering replaces it.
func (s *Status) Register(name string, fn func() any) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	s.sources[name] = fn
	s.mu.Unlock()
}

func (s *Status) MarkTick(nowUTC time.Time) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.ticks, 1)
}

type StatusSnapshot struct {
	Service     string         `json:"service"`
	NowUTC      string         `json:"now_utc"`
	UptimeSec   int64          `json:"uptime_sec"`
	Mode        string         `json:"mode"`
	Device      string         `json:"device,omitempty"`
	Ticks       uint64         `json:"ticks"`
	LastTickUTC string         `json:"last_tick_utc,omitempty"`
	LocalAddrs  []string       `json:"local_addrs,omitempty"`
	Components  map[string]any `json:"components"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	lastTick := atomic.LoadInt64(&s.lastTickNano)

	snap := StatusSnapshot{
		Service:    "subsurvey",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Mode:       s.mode.Load().(string),
		Device:     s.device.Load().(string),
		Ticks:      atomic.LoadUint64(&s.ticks),
		LocalAddrs: localInterfaceAddrs(),
		Components: map[string]any{},
	}
	if lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}

	s.mu.RLock()
	for name, fn := range s.sources {
		snap.Components[name] = fn()
	}
	s.mu.RUnlock()
	return snap
}

// localInterfaceAddrs lists non-loopback IPv4 addresses so an operator can
// find the unit on the tether network.
func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]string, 0, 8)
	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, iface.Name+": "+ipnet.String())
		}
	}
	sort.Strings(out)
	return out
}
