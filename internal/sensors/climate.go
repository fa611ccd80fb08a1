package sensors

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// IIO attribute names exposed by the dht11 kernel driver.
const (
	tempAttr     = "in_temp_input"
	humidityAttr = "in_humidityrelative_input"
)

// Climate is one temperature/humidity reading.
type Climate struct {
	TempC       float64   `json:"temp_c"`
	HumidityPct float64   `json:"humidity_pct"`
	At          time.Time `json:"at"`
}

// parseMilli parses a sysfs integer. Values in thousandths are scaled down;
// drivers that already report whole units are passed through.
func parseMilli(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if n > 1000 || n < -1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

func readAttr(dir, name string) (float64, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	v, err := parseMilli(string(b))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// ReadClimate reads both attributes from an IIO device directory.
func ReadClimate(dir string, now time.Time) (Climate, error) {
	t, err := readAttr(dir, tempAttr)
	if err != nil {
		return Climate{}, err
	}
	h, err := readAttr(dir, humidityAttr)
	if err != nil {
		return Climate{}, err
	}
	return Climate{TempC: t, HumidityPct: h, At: now}, nil
}
