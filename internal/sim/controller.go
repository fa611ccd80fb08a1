// Package sim provides an in-process stand-in for the field unit's motion
// controller. It speaks the same line protocol as the serial link.
package sim

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

type Config struct {
	// ArriveAfter is the number of polls a GOTO takes to complete.
	ArriveAfter int
	// FailEvery makes every Nth GOTO fail (0 disables).
	FailEvery int
	// StatusEvery is the idle STATUS cadence in polls.
	StatusEvery int

	BatteryV     float64
	DrainPerPoll float64
}

type Snapshot struct {
	Gotos    int     `json:"gotos"`
	Arrived  int     `json:"arrived"`
	Failed   int     `json:"failed"`
	States   int     `json:"states"`
	Ignored  int     `json:"ignored"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	BatteryV float64 `json:"battery_v"`
	LastPI   string  `json:"last_pi,omitempty"`
}

type job struct {
	fromX, fromY float64
	toX, toY     float64
	elapsed      int
}

// Controller implements io.ReadWriter. Every Read is one controller poll:
// it advances the simulated motion and returns whatever STATUS lines that
// produced, or (0, nil) when there is nothing to say.
type Controller struct {
	mu   sync.Mutex
	cfg  Config
	in   []byte
	out  []byte
	cur  *job
	idle int
	snap Snapshot
}

func New(cfg Config) *Controller {
	if cfg.ArriveAfter <= 0 {
		cfg.ArriveAfter = 3
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 5
	}
	if cfg.BatteryV == 0 {
		cfg.BatteryV = 16.8
	}
	if cfg.DrainPerPoll == 0 {
		cfg.DrainPerPoll = 0.001
	}
	return &Controller{cfg: cfg, snap: Snapshot{BatteryV: cfg.BatteryV}}
}

func (c *Controller) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, p...)
	for {
		i := bytes.IndexByte(c.in, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(c.in[:i]), "\r")
		c.in = c.in[i+1:]
		c.handleLocked(line)
	}
	return len(p), nil
}

func (c *Controller) handleLocked(line string) {
	parts := strings.Split(line, ",")
	switch parts[0] {
	case "GOTO":
		kv := make(map[string]string, len(parts)-1)
		for _, seg := range parts[1:] {
			k, v, ok := strings.Cut(seg, "=")
			if ok {
				kv[k] = v
			}
		}
		x, errX := strconv.ParseFloat(kv["x"], 64)
		y, errY := strconv.ParseFloat(kv["y"], 64)
		if errX != nil || errY != nil {
			c.snap.Ignored++
			return
		}
		c.snap.Gotos++
		if c.cfg.FailEvery > 0 && c.snap.Gotos%c.cfg.FailEvery == 0 {
			c.cur = nil
			c.snap.Failed++
			c.emitLocked("failed")
			return
		}
		c.cur = &job{fromX: c.snap.X, fromY: c.snap.Y, toX: x, toY: y}
		c.emitLocked("busy")
	case "PI":
		// Host state is accepted and otherwise ignored.
		c.snap.States++
		c.snap.LastPI = line
	default:
		c.snap.Ignored++
	}
}

func (c *Controller) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepLocked()
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *Controller) stepLocked() {
	if c.cur == nil {
		c.idle++
		if c.idle >= c.cfg.StatusEvery {
			c.idle = 0
			c.emitLocked("idle")
		}
		return
	}
	c.idle = 0
	j := c.cur
	j.elapsed++
	c.snap.BatteryV -= c.cfg.DrainPerPoll
	if j.elapsed >= c.cfg.ArriveAfter {
		c.snap.X, c.snap.Y = j.toX, j.toY
		c.cur = nil
		c.snap.Arrived++
		c.emitLocked("arrived")
		return
	}
	f := float64(j.elapsed) / float64(c.cfg.ArriveAfter)
	c.snap.X = lerp(j.fromX, j.toX, f)
	c.snap.Y = lerp(j.fromY, j.toY, f)
	c.emitLocked("busy")
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }

func (c *Controller) emitLocked(state string) {
	line := fmt.Sprintf("STATUS,nav_state=%s,x=%.2f,y=%.2f,batt=%.2f\r\n", state, c.snap.X, c.snap.Y, c.snap.BatteryV)
	c.out = append(c.out, line...)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Close satisfies io.Closer so the controller can stand in for a port.
func (c *Controller) Close() error { return nil }
