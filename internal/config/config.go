package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/rcdrive/internal/control"
	"github.com/banshee-data/rcdrive/internal/pid"
	"github.com/banshee-data/rcdrive/internal/rc"
	"github.com/banshee-data/rcdrive/internal/serialport"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/rcdrive.defaults.json"

// Config is the root configuration. Every field is optional: the Get*
// methods fall back to the rig's defaults, so partial files are safe.
type Config struct {
	// Receiver
	RawMin          *int                    `json:"raw_min,omitempty"`
	RawMax          *int                    `json:"raw_max,omitempty"`
	ChannelLayout   []string                `json:"channel_layout,omitempty"` // category names; empty means FS-i6X
	Mappings        map[string][]int        `json:"mappings,omitempty"`       // category name -> output values
	ReceiverPort    *string                 `json:"receiver_port,omitempty"`
	ReceiverSerial  *serialport.PortOptions `json:"receiver_serial,omitempty"`
	FailsafeTimeout *string                 `json:"failsafe_timeout,omitempty"` // duration string like "500ms"
	FailsafeValues  []int                   `json:"failsafe_values,omitempty"`

	// Control loop
	EnableChannel        *int     `json:"enable_channel,omitempty"`
	LimiterChannel       *int     `json:"limiter_channel,omitempty"`
	CommandChannel       *int     `json:"command_channel,omitempty"`
	SampleRateHz         *float64 `json:"sample_rate_hz,omitempty"`
	LoopInterval         *string  `json:"loop_interval,omitempty"`
	LEDFrequencyHz       *float64 `json:"led_frequency_hz,omitempty"`
	MaxIncreasePerSecond *float64 `json:"max_increase_per_second,omitempty"`
	MaxDecreasePerSecond *float64 `json:"max_decrease_per_second,omitempty"`

	// Servo controller
	ServoPort    *string                 `json:"servo_port,omitempty"`
	ServoSerial  *serialport.PortOptions `json:"servo_serial,omitempty"`
	MotorChannel *int                    `json:"motor_channel,omitempty"`
	LEDChannel   *int                    `json:"led_channel,omitempty"`
	MinPulseUs   *int                    `json:"min_pulse_us,omitempty"`
	MaxPulseUs   *int                    `json:"max_pulse_us,omitempty"`

	// Optional position controller
	PID *PIDConfig `json:"pid,omitempty"`

	// Service
	Listen *string `json:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty"`
}

// PIDConfig configures the closed-loop position stage.
type PIDConfig struct {
	Enabled          *bool    `json:"enabled,omitempty"`
	KP               *float64 `json:"kp,omitempty"`
	KI               *float64 `json:"ki,omitempty"`
	KD               *float64 `json:"kd,omitempty"`
	OutputMin        *float64 `json:"output_min,omitempty"`
	OutputMax        *float64 `json:"output_max,omitempty"`
	IntegrationLimit *float64 `json:"integration_limit,omitempty"`
	FinishedValue    *float64 `json:"finished_value,omitempty"`
	Display          *bool    `json:"display,omitempty"`
}

// EmptyConfig returns a Config with every field unset.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be at most 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or the repository root. It panics on failure and is meant for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // from cmd/tools/<tool>/
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	raw := c.GetRawRange()
	if err := raw.Validate(); err != nil {
		return err
	}

	layout, err := c.Layout()
	if err != nil {
		return err
	}
	n := len(layout)

	for name, vals := range c.Mappings {
		cat, err := rc.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("mappings: %w", err)
		}
		if len(vals) != cat.Arity() {
			return fmt.Errorf("mappings.%s: %w", name, &rc.ConfigurationError{Category: cat, Want: cat.Arity(), Got: len(vals)})
		}
	}

	for name, ch := range map[string]int{
		"enable_channel":  c.GetEnableChannel(),
		"limiter_channel": c.GetLimiterChannel(),
		"command_channel": c.GetCommandChannel(),
	} {
		if ch < 0 || ch >= n {
			return fmt.Errorf("%s %d outside the %d-channel layout", name, ch, n)
		}
	}
	if len(c.FailsafeValues) > n {
		return fmt.Errorf("failsafe_values has %d entries for %d channels", len(c.FailsafeValues), n)
	}

	for name, v := range map[string]*string{
		"failsafe_timeout": c.FailsafeTimeout,
		"loop_interval":    c.LoopInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.GetSampleRateHz() <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", c.GetSampleRateHz())
	}
	if c.GetLEDFrequencyHz() <= 0 {
		return fmt.Errorf("led_frequency_hz must be positive, got %f", c.GetLEDFrequencyHz())
	}
	if c.GetMaxIncreasePerSecond() < 0 || c.GetMaxDecreasePerSecond() < 0 {
		return fmt.Errorf("motor rate limits must be non-negative")
	}

	for name, ch := range map[string]int{"motor_channel": c.GetMotorChannel(), "led_channel": c.GetLEDChannel()} {
		if ch < 0 || ch > 0x7f {
			return fmt.Errorf("%s must be between 0 and 127, got %d", name, ch)
		}
	}
	if lo, hi := c.GetPulseRange(); lo <= 0 || hi <= lo {
		return fmt.Errorf("pulse range %d..%d us is invalid", lo, hi)
	}

	for name, opts := range map[string]*serialport.PortOptions{"receiver_serial": c.ReceiverSerial, "servo_serial": c.ServoSerial} {
		if opts == nil {
			continue
		}
		if _, err := opts.Normalize(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.PID != nil {
		if lo, hi := c.PID.GetOutputRange(); hi <= lo {
			return fmt.Errorf("pid output range [%f, %f] is empty", lo, hi)
		}
	}
	return nil
}

// GetRawRange returns the receiver's raw range.
func (c *Config) GetRawRange() rc.Range {
	r := rc.DefaultRange
	if c.RawMin != nil {
		r.Min = *c.RawMin
	}
	if c.RawMax != nil {
		r.Max = *c.RawMax
	}
	return r
}

// Layout returns the channel layout, FS-i6X unless channel_layout is set.
func (c *Config) Layout() (rc.Layout, error) {
	if len(c.ChannelLayout) == 0 {
		return rc.FSi6X(), nil
	}
	layout := make(rc.Layout, len(c.ChannelLayout))
	for i, name := range c.ChannelLayout {
		cat, err := rc.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("channel_layout[%d]: %w", i, err)
		}
		layout[i] = cat
	}
	return layout, nil
}

// NewMapper builds a Mapper from the layout, raw range and mappings.
func (c *Config) NewMapper() (*rc.Mapper, error) {
	layout, err := c.Layout()
	if err != nil {
		return nil, err
	}
	m, err := rc.NewMapper(layout, c.GetRawRange())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.Mappings))
	for name := range c.Mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cat, err := rc.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if err := m.SetMappingValues(cat, c.Mappings[name]); err != nil {
			return nil, fmt.Errorf("mappings.%s: %w", name, err)
		}
	}
	return m, nil
}

// ControlConfig returns the loop configuration.
func (c *Config) ControlConfig() control.Config {
	cfg := control.Config{
		EnableChannel:        c.GetEnableChannel(),
		LimiterChannel:       c.GetLimiterChannel(),
		CommandChannel:       c.GetCommandChannel(),
		SampleRate:           c.GetSampleRateHz(),
		LEDFrequency:         c.GetLEDFrequencyHz(),
		LoopInterval:         c.GetLoopInterval(),
		MaxIncreasePerSecond: c.GetMaxIncreasePerSecond(),
		MaxDecreasePerSecond: c.GetMaxDecreasePerSecond(),
	}
	if c.PID != nil && c.PID.GetEnabled() {
		lo, hi := c.PID.GetOutputRange()
		cfg.PID = &control.PIDConfig{
			Gains:            c.PID.GetGains(),
			OutputMin:        lo,
			OutputMax:        hi,
			IntegrationLimit: c.PID.GetIntegrationLimit(),
			FinishedValue:    c.PID.GetFinishedValue(),
		}
	}
	return cfg
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetEnableChannel returns the motor enable switch channel (SWD).
func (c *Config) GetEnableChannel() int { return getInt(c.EnableChannel, rc.SWD) }

// GetLimiterChannel returns the rate limiter switch channel (SWA).
func (c *Config) GetLimiterChannel() int { return getInt(c.LimiterChannel, rc.SWA) }

// GetCommandChannel returns the motor command channel (SWC).
func (c *Config) GetCommandChannel() int { return getInt(c.CommandChannel, rc.SWC) }

func (c *Config) GetSampleRateHz() float64 {
	return getFloat(c.SampleRateHz, control.DefaultSampleRate)
}

func (c *Config) GetLoopInterval() time.Duration {
	return getDuration(c.LoopInterval, control.DefaultLoopInterval)
}

func (c *Config) GetLEDFrequencyHz() float64 {
	return getFloat(c.LEDFrequencyHz, control.DefaultLEDFrequency)
}

func (c *Config) GetMaxIncreasePerSecond() float64 {
	return getFloat(c.MaxIncreasePerSecond, control.DefaultMotorRate)
}

func (c *Config) GetMaxDecreasePerSecond() float64 {
	return getFloat(c.MaxDecreasePerSecond, control.DefaultMotorRate)
}

// GetReceiverPort returns the receiver's serial device; empty means none.
func (c *Config) GetReceiverPort() string { return getString(c.ReceiverPort, "") }

// GetReceiverSerial returns the receiver line settings.
func (c *Config) GetReceiverSerial() serialport.PortOptions {
	if c.ReceiverSerial == nil {
		return serialport.PortOptions{}
	}
	return *c.ReceiverSerial
}

// GetFailsafeTimeout returns the link-loss timeout.
func (c *Config) GetFailsafeTimeout() time.Duration {
	return getDuration(c.FailsafeTimeout, 500*time.Millisecond)
}

// GetServoPort returns the servo controller's serial device; empty means none.
func (c *Config) GetServoPort() string { return getString(c.ServoPort, "") }

// GetServoSerial returns the servo controller line settings.
func (c *Config) GetServoSerial() serialport.PortOptions {
	if c.ServoSerial == nil {
		return serialport.PortOptions{}
	}
	return *c.ServoSerial
}

func (c *Config) GetMotorChannel() int { return getInt(c.MotorChannel, 0) }
func (c *Config) GetLEDChannel() int   { return getInt(c.LEDChannel, 1) }

// GetPulseRange returns the ESC pulse widths for 0 and 180 degrees.
func (c *Config) GetPulseRange() (minUs, maxUs int) {
	return getInt(c.MinPulseUs, 1000), getInt(c.MaxPulseUs, 2000)
}

func (c *Config) GetListen() string { return getString(c.Listen, ":8080") }
func (c *Config) GetDBPath() string { return getString(c.DBPath, "rcdrive.db") }

// GetEnabled reports whether the position stage is on. Default false.
func (p *PIDConfig) GetEnabled() bool {
	return p.Enabled != nil && *p.Enabled
}

// GetGains returns the gains; unset gains are zero.
func (p *PIDConfig) GetGains() pid.Gains {
	return pid.Gains{P: getFloat(p.KP, 0), I: getFloat(p.KI, 0), D: getFloat(p.KD, 0)}
}

// GetOutputRange returns the output clamp, default [-100, 100].
func (p *PIDConfig) GetOutputRange() (lo, hi float64) {
	return getFloat(p.OutputMin, pid.DefaultOutputMin), getFloat(p.OutputMax, pid.DefaultOutputMax)
}

// GetIntegrationLimit returns the limit; zero means always integrate.
func (p *PIDConfig) GetIntegrationLimit() float64 { return getFloat(p.IntegrationLimit, 0) }

func (p *PIDConfig) GetFinishedValue() float64 { return getFloat(p.FinishedValue, 0) }

// GetDisplay reports whether Teleplot output is on. Default false.
func (p *PIDConfig) GetDisplay() bool {
	return p.Display != nil && *p.Display
}
