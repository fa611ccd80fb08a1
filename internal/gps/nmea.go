package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type sentence struct {
	Kind   string   // last three letters of the address field, e.g. "GGA"
	Fields []string // comma-split payload, address first
}

func parseSentence(line string) (sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return sentence{}, fmt.Errorf("nmea: missing '$'")
	}
	body, sum, ok := strings.Cut(line[1:], "*")
	if !ok {
		return sentence{}, fmt.Errorf("nmea: missing checksum")
	}
	sum = strings.TrimSpace(sum)
	if len(sum) < 2 {
		return sentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(sum[:2])
	if err != nil {
		return sentence{}, fmt.Errorf("nmea: bad checksum %q", sum[:2])
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != want[0] {
		return sentence{}, fmt.Errorf("nmea: checksum mismatch got=%02X want=%02X", got, want[0])
	}

	fields := strings.Split(body, ",")
	addr := fields[0]
	if len(addr) < 3 {
		return sentence{}, fmt.Errorf("nmea: short address %q", addr)
	}
	return sentence{Kind: strings.ToUpper(addr[len(addr)-3:]), Fields: fields}, nil
}

// tracker folds GGA and RMC sentences into a running fix.
type tracker struct {
	lat, lon    float64
	haveLatLon  bool
	altM        float64
	haveAlt     bool
	heading     float64
	haveHeading bool
	quality     int
	satellites  int
	lastFix     time.Time
}

func (t *tracker) apply(now time.Time, s sentence) bool {
	switch s.Kind {
	case "GGA":
		return t.gga(now, s.Fields)
	case "RMC":
		return t.rmc(now, s.Fields)
	}
	return false
}

// gga: time, lat, N/S, lon, E/W, quality, sats, hdop, alt, M, ...
func (t *tracker) gga(now time.Time, f []string) bool {
	if len(f) < 11 {
		return false
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || q <= 0 {
		return false
	}
	lat, okLat := degrees(f[2], f[3])
	lon, okLon := degrees(f[4], f[5])
	if !okLat || !okLon {
		return false
	}
	t.lat, t.lon, t.haveLatLon = lat, lon, true
	t.quality = q
	if n, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		t.satellites = n
	}
	if alt, ok := number(f[9]); ok {
		t.altM, t.haveAlt = alt, true
	}
	t.lastFix = now
	return true
}

// rmc: time, status, lat, N/S, lon, E/W, speed kt, track deg, date, ...
func (t *tracker) rmc(now time.Time, f []string) bool {
	if len(f) < 10 || strings.TrimSpace(f[2]) != "A" {
		return false
	}
	lat, okLat := degrees(f[3], f[4])
	lon, okLon := degrees(f[5], f[6])
	if !okLat || !okLon {
		return false
	}
	t.lat, t.lon, t.haveLatLon = lat, lon, true
	if trk, ok := number(f[8]); ok {
		t.heading, t.haveHeading = math.Mod(trk+360, 360), true
	}
	t.lastFix = now
	return true
}

func (t *tracker) fix() Fix {
	out := Fix{Satellites: t.satellites, Quality: t.quality}
	if !t.haveLatLon {
		return out
	}
	out.Valid = true
	out.Lat, out.Lon = t.lat, t.lon
	out.At = t.lastFix
	if t.haveAlt {
		v := t.altM
		out.AltM = &v
	}
	if t.haveHeading {
		v := t.heading
		out.HeadingDeg = &v
	}
	return out
}

func number(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// degrees converts (d)ddmm.mmmm plus hemisphere to signed decimal degrees.
func degrees(v, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.ToUpper(strings.TrimSpace(hemi))
	sign := 1.0
	switch hemi {
	case "N", "E":
	case "S", "W":
		sign = -1
	default:
		return 0, false
	}
	whole := v
	if i := strings.IndexByte(v, '.'); i >= 0 {
		whole = v[:i]
	}
	if len(whole) < 3 {
		return 0, false
	}
	split := len(whole) - 2
	deg, err := strconv.Atoi(v[:split])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[split:], 64)
	if err != nil || mins >= 60 {
		return 0, false
	}
	return sign * (float64(deg) + mins/60), true
}
