// Package link implements the line-oriented serial protocol spoken with the
// field unit's microcontroller.
//
// Every message is one ASCII line terminated by '\n'. The controller reports
// with STATUS lines; the host commands with GOTO and reports its own state
// with PI lines.
package link

import (
	"strconv"
	"strings"
)

// Line tags.
const (
	TagStatus = "STATUS"
	TagGoto   = "GOTO"
	TagState  = "PI"
)

// NavState is the controller's navigation signal carried in the nav_state
// field of a STATUS line.
type NavState string

const (
	NavNone    NavState = ""
	NavIdle    NavState = "idle"
	NavBusy    NavState = "busy"
	NavArrived NavState = "arrived"
	NavFailed  NavState = "failed"
)

// NavKey is the STATUS field that carries the navigation signal.
const NavKey = "nav_state"

func parseNavState(v any) NavState {
	s, ok := v.(string)
	if !ok {
		return NavNone
	}
	switch NavState(strings.ToLower(s)) {
	case NavIdle:
		return NavIdle
	case NavBusy:
		return NavBusy
	case NavArrived:
		return NavArrived
	case NavFailed:
		return NavFailed
	default:
		return NavNone
	}
}

// StatusFrame is one parsed STATUS line.
//
// Fields holds every key=value pair of the line (nav_state included) with
// values coerced to int, then float64, then left as string.
type StatusFrame struct {
	Nav    NavState
	Fields map[string]any
	Raw    string
}

// HasNav reports whether the frame carried a recognised navigation signal.
func (f StatusFrame) HasNav() bool { return f.Nav != NavNone }

// Int returns an integer field. Float values are truncated.
func (f StatusFrame) Int(key string) (int, bool) {
	switch v := f.Fields[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// ParseStatus parses a single line (without its terminator). Lines that are
// not tagged STATUS are rejected. Segments without '=' are skipped.
func ParseStatus(line string) (StatusFrame, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, TagStatus) {
		return StatusFrame{}, false
	}
	parts := strings.Split(line, ",")
	if strings.TrimSpace(parts[0]) != TagStatus {
		return StatusFrame{}, false
	}

	fr := StatusFrame{Fields: make(map[string]any, len(parts)-1), Raw: line}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		fr.Fields[k] = coerce(strings.TrimSpace(v))
	}
	fr.Nav = parseNavState(fr.Fields[NavKey])
	return fr, true
}

func coerce(v string) any {
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// FormatGoto encodes a motion command, including the trailing newline.
func FormatGoto(x, y, speed float64) string {
	var b strings.Builder
	b.Grow(40)
	b.WriteString(TagGoto)
	b.WriteString(",x=")
	b.WriteString(fixed(x, 2))
	b.WriteString(",y=")
	b.WriteString(fixed(y, 2))
	b.WriteString(",v=")
	b.WriteString(fixed(speed, 2))
	b.WriteByte('\n')
	return b.String()
}

// HostState is the host's periodic state report. Nil optional fields are
// left out of the encoded line.
type HostState struct {
	// Meters is the operator depth/distance target, encoded as ab.
	Meters     float64
	Autonomous bool

	Lat *float64
	Lon *float64
	Alt *float64

	TempC       float64
	HumidityPct float64
	Leak        bool

	Heading *float64
}

// FormatState encodes a PI line, including the trailing newline.
func FormatState(s HostState) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(TagState)
	b.WriteString(",ab=" + fixed(s.Meters, 2))
	b.WriteString(",auto=" + flag(s.Autonomous))
	if s.Lat != nil {
		b.WriteString(",lat=" + fixed(*s.Lat, 6))
	}
	if s.Lon != nil {
		b.WriteString(",lon=" + fixed(*s.Lon, 6))
	}
	if s.Alt != nil {
		b.WriteString(",alt=" + fixed(*s.Alt, 2))
	}
	b.WriteString(",temp=" + fixed(s.TempC, 2))
	b.WriteString(",hum=" + fixed(s.HumidityPct, 2))
	b.WriteString(",leak=" + flag(s.Leak))
	if s.Heading != nil {
		b.WriteString(",hdg=" + fixed(*s.Heading, 2))
	}
	b.WriteByte('\n')
	return b.String()
}
