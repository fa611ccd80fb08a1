package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Control   ControlConfig   `yaml:"control"`
	Link      LinkConfig      `yaml:"link"`
	Mission   MissionConfig   `yaml:"mission"`
	GPS       GPSConfig       `yaml:"gps"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	LED       LEDConfig       `yaml:"led"`
	Camera    CameraConfig    `yaml:"camera"`
	Store     StoreConfig     `yaml:"store"`
	Upload    UploadConfig    `yaml:"upload"`
	Messaging MessagingConfig `yaml:"messaging"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Web       WebConfig       `yaml:"web"`
}

type ControlConfig struct {
	// TickInterval paces the navigation control loop.
	TickInterval time.Duration `yaml:"tick_interval"`
	// StateInterval paces PI reports to the controller.
	StateInterval time.Duration `yaml:"state_interval"`
}

type LinkConfig struct {
	Device       string        `yaml:"device"`
	Baud         int           `yaml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	MaxLineBytes int           `yaml:"max_line_bytes"`

	// Simulate replaces the serial device with an in-process controller.
	Simulate bool          `yaml:"simulate"`
	Sim      SimLinkConfig `yaml:"sim"`

	Record RecordConfig `yaml:"record"`
	Replay ReplayConfig `yaml:"replay"`
}

// RecordConfig appends all link traffic to a text log.
type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// ReplayConfig feeds a recorded log back in place of the serial device.
type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type SimLinkConfig struct {
	ArriveAfter int `yaml:"arrive_after"`
	FailEvery   int `yaml:"fail_every"`
}

type MissionConfig struct {
	BaseURL            string        `yaml:"base_url"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	UpdateInterval     time.Duration `yaml:"update_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	DefaultFootprintM2 float64       `yaml:"default_footprint_m2"`
}

type GPSConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type SensorsConfig struct {
	Leak    LeakConfig    `yaml:"leak"`
	Climate ClimateConfig `yaml:"climate"`
}

type LeakConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Pin    int    `yaml:"pin"`
	// ActiveHigh flips the default active-low (pull-up) wiring.
	ActiveHigh    bool          `yaml:"active_high"`
	SamplePeriod  time.Duration `yaml:"sample_period"`
	DebounceCount int           `yaml:"debounce_count"`
}

type ClimateConfig struct {
	Enable bool `yaml:"enable"`
	// Dir is an IIO device directory, e.g. /sys/bus/iio/devices/iio:device0.
	Dir string `yaml:"dir"`
}

type LEDConfig struct {
	Enable     bool   `yaml:"enable"`
	Chip       string `yaml:"chip"`
	RedPin     int    `yaml:"red_pin"`
	GreenPin   int    `yaml:"green_pin"`
	BluePin    int    `yaml:"blue_pin"`
	ActiveHigh bool   `yaml:"active_high"`

	WarnFailurePercent int `yaml:"warn_failure_percent"`
}

type CameraConfig struct {
	Enable   bool          `yaml:"enable"`
	PhotoDir string        `yaml:"photo_dir"`
	Command  string        `yaml:"command"`
	Timeout  time.Duration `yaml:"timeout"`
	// FlashPin lights the scene during capture when > 0.
	FlashPin int `yaml:"flash_pin"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type UploadConfig struct {
	Enable   bool          `yaml:"enable"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MessagingConfig struct {
	// Backend is "mqtt", "kafka" or empty (disabled).
	Backend  string   `yaml:"backend"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
	// Retention is how long sent messages stay in the local outbox.
	Retention time.Duration `yaml:"retention"`
}

type MirrorConfig struct {
	Dest string `yaml:"dest"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// Load reads, strictly decodes, defaults and validates a YAML config file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes. Unknown keys are an error.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Control.TickInterval <= 0 {
		cfg.Control.TickInterval = 200 * time.Millisecond
	}
	if cfg.Control.StateInterval <= 0 {
		cfg.Control.StateInterval = 1 * time.Second
	}

	cfg.Link.Device = strings.TrimSpace(cfg.Link.Device)
	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = 9600
	}
	if cfg.Link.Baud < 0 {
		return fmt.Errorf("link.baud must be > 0")
	}
	if cfg.Link.ReadTimeout <= 0 {
		cfg.Link.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Link.MaxLineBytes <= 0 {
		cfg.Link.MaxLineBytes = 4096
	}
	if cfg.Link.Sim.ArriveAfter <= 0 {
		cfg.Link.Sim.ArriveAfter = 3
	}
	if cfg.Link.Sim.FailEvery < 0 {
		return fmt.Errorf("link.sim.fail_every must be >= 0")
	}
	cfg.Link.Record.Path = strings.TrimSpace(cfg.Link.Record.Path)
	if cfg.Link.Record.Enable && cfg.Link.Record.Path == "" {
		return fmt.Errorf("link.record.path is required when link.record.enable is true")
	}
	cfg.Link.Replay.Path = strings.TrimSpace(cfg.Link.Replay.Path)
	if cfg.Link.Replay.Enable {
		if cfg.Link.Replay.Path == "" {
			return fmt.Errorf("link.replay.path is required when link.replay.enable is true")
		}
		if cfg.Link.Simulate {
			return fmt.Errorf("link.replay and link.simulate are mutually exclusive")
		}
		if cfg.Link.Record.Enable && cfg.Link.Record.Path == cfg.Link.Replay.Path {
			return fmt.Errorf("link.record.path must differ from link.replay.path")
		}
	}
	if cfg.Link.Replay.Speed == 0 {
		cfg.Link.Replay.Speed = 1
	}
	if cfg.Link.Replay.Speed < 0 {
		return fmt.Errorf("link.replay.speed must be > 0")
	}

	cfg.Mission.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Mission.BaseURL), "/")
	if cfg.Mission.BaseURL == "" {
		return fmt.Errorf("mission.base_url is required")
	}
	if u, err := url.Parse(cfg.Mission.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mission.base_url must be an absolute http(s) URL")
	}
	if cfg.Mission.PollInterval <= 0 {
		cfg.Mission.PollInterval = 2 * time.Second
	}
	if cfg.Mission.UpdateInterval <= 0 {
		cfg.Mission.UpdateInterval = 5 * time.Second
	}
	if cfg.Mission.RequestTimeout <= 0 {
		cfg.Mission.RequestTimeout = 5 * time.Second
	}
	if cfg.Mission.DefaultFootprintM2 == 0 {
		cfg.Mission.DefaultFootprintM2 = 1.0
	}
	if cfg.Mission.DefaultFootprintM2 < 0 {
		return fmt.Errorf("mission.default_footprint_m2 must be > 0")
	}

	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.Enable && cfg.Link.Device != "" && cfg.GPS.Device == cfg.Link.Device {
		return fmt.Errorf("gps.device must differ from link.device")
	}

	leak := &cfg.Sensors.Leak
	if leak.Chip == "" {
		leak.Chip = "gpiochip0"
	}
	if leak.Enable && leak.Pin <= 0 {
		return fmt.Errorf("sensors.leak.pin is required when sensors.leak.enable is true")
	}
	if leak.SamplePeriod <= 0 {
		leak.SamplePeriod = 200 * time.Millisecond
	}
	if leak.DebounceCount <= 0 {
		leak.DebounceCount = 3
	}
	if cfg.Sensors.Climate.Enable && strings.TrimSpace(cfg.Sensors.Climate.Dir) == "" {
		return fmt.Errorf("sensors.climate.dir is required when sensors.climate.enable is true")
	}

	led := &cfg.LED
	if led.Chip == "" {
		led.Chip = "gpiochip0"
	}
	if led.Enable {
		if led.RedPin <= 0 || led.GreenPin <= 0 || led.BluePin <= 0 {
			return fmt.Errorf("led.red_pin, led.green_pin and led.blue_pin are required when led.enable is true")
		}
		if led.RedPin == led.GreenPin || led.RedPin == led.BluePin || led.GreenPin == led.BluePin {
			return fmt.Errorf("led pins must be distinct")
		}
		if leak.Enable && (leak.Pin == led.RedPin || leak.Pin == led.GreenPin || leak.Pin == led.BluePin) {
			return fmt.Errorf("sensors.leak.pin conflicts with an led pin")
		}
	}
	if led.WarnFailurePercent <= 0 {
		led.WarnFailurePercent = 50
	}
	if led.WarnFailurePercent > 100 {
		return fmt.Errorf("led.warn_failure_percent must be <= 100")
	}

	if cfg.Camera.PhotoDir == "" {
		cfg.Camera.PhotoDir = "./photos"
	}
	if cfg.Camera.Timeout <= 0 {
		cfg.Camera.Timeout = 10 * time.Second
	}

	if led.Enable && cfg.Camera.FlashPin > 0 &&
		(cfg.Camera.FlashPin == led.RedPin || cfg.Camera.FlashPin == led.GreenPin || cfg.Camera.FlashPin == led.BluePin) {
		return fmt.Errorf("camera.flash_pin conflicts with an led pin")
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "./subsurvey.db"
	}

	if cfg.Upload.Interval <= 0 {
		cfg.Upload.Interval = 30 * time.Second
	}
	if cfg.Upload.Timeout <= 0 {
		cfg.Upload.Timeout = 30 * time.Second
	}

	m := &cfg.Messaging
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	switch m.Backend {
	case "":
	case "mqtt", "kafka":
		if len(m.Brokers) == 0 {
			return fmt.Errorf("messaging.brokers is required when messaging.backend is %q", m.Backend)
		}
	default:
		return fmt.Errorf("messaging.backend must be 'mqtt', 'kafka' or empty")
	}
	if m.Topic == "" {
		m.Topic = "subsurvey/status"
	}
	if m.ClientID == "" {
		m.ClientID = "subsurvey"
	}
	if m.Retention <= 0 {
		m.Retention = 24 * time.Hour
	}

	cfg.Mirror.Dest = strings.TrimSpace(cfg.Mirror.Dest)
	if cfg.Mirror.Dest != "" {
		if _, _, err := net.SplitHostPort(cfg.Mirror.Dest); err != nil {
			return fmt.Errorf("mirror.dest must be host:port: %w", err)
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	return nil
}
