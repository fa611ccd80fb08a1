// Package mission talks to the survey backend: it polls the operator's
// mission settings, posts status updates and runs operator commands.
package mission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r2"
)

// Settings is the backend's /info/ document.
type Settings struct {
	Explore    bool    `json:"explore"`
	Autonomous bool    `json:"autonomous"`
	Meters     float64 `json:"meters"`
	// Time is the photo interval as "MM:SS".
	Time    string      `json:"time"`
	Polygon [][]float64 `json:"polygon"`

	FootprintM2 *float64 `json:"footprint_m2,omitempty"`
	Command     *Command `json:"command,omitempty"`
}

// Defaults matches a backend that has never been configured.
func Defaults() Settings {
	return Settings{Autonomous: true, Time: "0:05"}
}

// PhotoInterval parses Time; invalid values give 0 (no photos).
func (s Settings) PhotoInterval() time.Duration { return ParseInterval(s.Time) }

// MinFootprintM2 is the smallest footprint accepted from the backend.
const MinFootprintM2 = 1e-4

// Footprint returns the configured footprint, or fallback when it is missing
// or below MinFootprintM2.
func (s Settings) Footprint(fallback float64) float64 {
	if s.FootprintM2 != nil && *s.FootprintM2 >= MinFootprintM2 && !math.IsInf(*s.FootprintM2, 0) {
		return *s.FootprintM2
	}
	return fallback
}

// Points converts the polygon to planar points. Vertices with fewer than two
// coordinates are skipped.
func (s Settings) Points() []r2.Point {
	out := make([]r2.Point, 0, len(s.Polygon))
	for _, v := range s.Polygon {
		if len(v) < 2 {
			continue
		}
		out = append(out, r2.Point{X: v[0], Y: v[1]})
	}
	return out
}

// ParseInterval converts "MM:SS" to a duration. Anything malformed is 0.
func ParseInterval(s string) time.Duration {
	m, sec, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0
	}
	mi, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil || mi < 0 {
		return 0
	}
	si, err := strconv.Atoi(strings.TrimSpace(sec))
	if err != nil || si < 0 {
		return 0
	}
	return time.Duration(mi*60+si) * time.Second
}

// Command is an operator request. The backend sends id as a string or a
// number; both decode to ID.
type Command struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Command) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.Name = raw.Name
	c.ID = ""
	id := bytes.TrimSpace(raw.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return nil
	}
	if id[0] == '"' {
		return json.Unmarshal(id, &c.ID)
	}
	var n json.Number
	if err := json.Unmarshal(id, &n); err != nil {
		return fmt.Errorf("command id: %w", err)
	}
	c.ID = n.String()
	return nil
}

// CommandStatus is reported back under "command_status".
type CommandStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Msg   string `json:"msg"`
}

const (
	CommandRunning = "running"
	CommandDone    = "done"
	CommandError   = "error"
)
