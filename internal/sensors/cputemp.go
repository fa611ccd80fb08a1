package sensors

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

var cpuTempPath = "/sys/class/thermal/thermal_zone0/temp"

func parseCPUTempC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cpu temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse cpu temp %q: %w", s, err)
	}
	// Most kernels report milli-degrees; a few report whole degrees.
	if n > 1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

// ReadCPUTempC reads the host SoC temperature in degrees Celsius. Inside a
// sealed hull this tracks enclosure heat better than the climate probe does.
func ReadCPUTempC() (float64, error) {
	b, err := os.ReadFile(cpuTempPath)
	if err != nil {
		return 0, fmt.Errorf("read cpu temp: %w", err)
	}
	return parseCPUTempC(string(b))
}
