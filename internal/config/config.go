// Package config loads aircastd's configuration: a typed struct with
// built-in defaults, an optional YAML file layered on top, and
// validation before use. Command-line flags that were explicitly set
// overwrite the loaded values at the composition root.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RTSPConfig controls the RTSP control channel.
type RTSPConfig struct {
	Threads int `yaml:"threads"`
	Audio   struct {
		BufferSizeBytes int `yaml:"buffer_size_bytes"`
	} `yaml:"audio"`
	Saver RTSPSaverConfig `yaml:"saver"`
}

// RTSPSaverConfig enables an optional capture of RTSP exchanges for
// debugging: File is a strftime pattern, so captures split into
// daily-named files under Path.
type RTSPSaverConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
	File   string `yaml:"file"`
}

// MDNSConfig controls the service advertiser.
type MDNSConfig struct {
	Port    int    `yaml:"port"`
	Service string `yaml:"service"`
}

// DMXTimeouts are the controller link's three watchdog timers.
type DMXTimeouts struct {
	IdleMS    int `yaml:"idle"`
	StalledMS int `yaml:"stalled"`
	RetryMS   int `yaml:"retry"`
}

// DMXConfig controls the DMX controller link.
type DMXConfig struct {
	Controller string      `yaml:"controller"`
	TimeoutsMS DMXTimeouts `yaml:"timeouts_ms"`
}

// FrameConfig controls frame decode concurrency.
type FrameConfig struct {
	RackedThreads int `yaml:"racked_threads"`
}

// StatsConfig names the metrics/telemetry sink.
type StatsConfig struct {
	DBURI string `yaml:"db_uri"`
}

// IdentityConfig describes the receiver for GET /info and the mDNS
// TXT records.
type IdentityConfig struct {
	ReceiverName    string `yaml:"receiver_name"`
	DeviceID        string `yaml:"device_id"`
	Model           string `yaml:"model"`
	FirmwareVersion string `yaml:"firmware_version"`
}

// Config is the complete set of aircastd configuration inputs.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Identity IdentityConfig `yaml:"identity"`
	RTSP     RTSPConfig     `yaml:"rtsp"`
	MDNS     MDNSConfig     `yaml:"mdns"`
	DMX      DMXConfig      `yaml:"dmx"`
	Frame    FrameConfig    `yaml:"frame"`
	Stats    StatsConfig    `yaml:"stats"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{LogLevel: "info"}
	c.Identity.ReceiverName = "aircast"
	c.Identity.Model = "aircast1,1"
	c.Identity.FirmwareVersion = "1.0.0"
	c.RTSP.Threads = 4
	c.RTSP.Audio.BufferSizeBytes = 1024 * 1024
	c.MDNS.Port = 0 // 0 == advertise the RTSP listener's port, filled in after it binds.
	c.MDNS.Service = "aircast"
	c.DMX.TimeoutsMS = DMXTimeouts{IdleMS: 30_000, StalledMS: 5_000, RetryMS: 500}
	c.Frame.RackedThreads = 4
	return c
}

// Load reads path (if it exists) over the defaults and validates the
// result. A missing file is not an error; the defaults stand alone.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, c.Validate()
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return c, c.Validate()
}

// Validate rejects out-of-range values before any subsystem sees them.
func (c *Config) Validate() error {
	if c.RTSP.Threads < 1 {
		return fmt.Errorf("config: rtsp.threads must be >= 1")
	}
	if c.RTSP.Audio.BufferSizeBytes < 4096 {
		return fmt.Errorf("config: rtsp.audio.buffer_size_bytes too small")
	}
	if c.MDNS.Port < 0 || c.MDNS.Port > 65535 {
		return fmt.Errorf("config: mdns.port out of range")
	}
	if c.Frame.RackedThreads < 1 {
		return fmt.Errorf("config: frame.racked_threads must be >= 1")
	}
	for name, ms := range map[string]int{
		"idle":    c.DMX.TimeoutsMS.IdleMS,
		"stalled": c.DMX.TimeoutsMS.StalledMS,
		"retry":   c.DMX.TimeoutsMS.RetryMS,
	} {
		if ms < 0 {
			return fmt.Errorf("config: dmx.timeouts_ms.%s must be >= 0", name)
		}
	}
	return nil
}

func (t DMXTimeouts) Idle() time.Duration    { return time.Duration(t.IdleMS) * time.Millisecond }
func (t DMXTimeouts) Stalled() time.Duration { return time.Duration(t.StalledMS) * time.Millisecond }
func (t DMXTimeouts) Retry() time.Duration   { return time.Duration(t.RetryMS) * time.Millisecond }
