package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/traffic"
)

// DefaultConfigPath is the checked-in file holding the default run settings.
const DefaultConfigPath = "config/gridlock.defaults.json"

// SimConfig is the JSON configuration for a simulation run. Every field is
// optional; the Get* methods return the default for fields left out, so a
// partial file is safe.
type SimConfig struct {
	// Field
	Mode       *string `json:"mode,omitempty"` // global, target, three-class, ordered-pair
	LayoutPath *string `json:"layout_path,omitempty"`

	// Cars
	Cars      *int     `json:"cars,omitempty"`
	CarNames  []string `json:"car_names,omitempty"`
	StepDelay *string  `json:"step_delay,omitempty"` // duration string like "100ms"

	// Wall randomizer
	WallIntervalMin *string `json:"wall_interval_min,omitempty"`
	WallIntervalMax *string `json:"wall_interval_max,omitempty"`
	WallAttempts    *int    `json:"wall_attempts,omitempty"`

	// Lock waiting
	BackoffBase        *string `json:"backoff_base,omitempty"`
	BackoffMax         *string `json:"backoff_max,omitempty"`
	BackoffMaxAttempts *int    `json:"backoff_max_attempts,omitempty"`

	// Outputs
	Listen      *string `json:"listen,omitempty"`
	GRPCListen  *string `json:"grpc_listen,omitempty"`
	DBPath      *string `json:"db_path,omitempty"`
	RecordDir   *string `json:"record_dir,omitempty"`
	TickLogDir  *string `json:"tick_log_dir,omitempty"`
	EventBuffer *int    `json:"event_buffer,omitempty"`
	Verbose     *bool   `json:"verbose,omitempty"`
}

// Defaults for fields left out of the config.
const (
	DefaultCars        = 4
	DefaultStepDelay   = 100 * time.Millisecond
	DefaultListen      = ":8080"
	DefaultEventBuffer = 256
)

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptySimConfig returns a SimConfig with all fields set to nil.
func EmptySimConfig() *SimConfig {
	return &SimConfig{}
}

// DefaultSimConfig returns a SimConfig with every field set to its default.
func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		Mode:               ptrString(field.DefaultMode.String()),
		Cars:               ptrInt(DefaultCars),
		StepDelay:          ptrString(DefaultStepDelay.String()),
		WallIntervalMin:    ptrString(traffic.DefaultWallMinInterval.String()),
		WallIntervalMax:    ptrString(traffic.DefaultWallMaxInterval.String()),
		WallAttempts:       ptrInt(traffic.DefaultWallAttempts),
		BackoffBase:        ptrString(field.DefaultBackoff.Base.String()),
		BackoffMax:         ptrString(field.DefaultBackoff.Max.String()),
		BackoffMaxAttempts: ptrInt(0),
		Listen:             ptrString(DefaultListen),
		GRPCListen:         ptrString(""),
		EventBuffer:        ptrInt(DefaultEventBuffer),
		Verbose:            ptrBool(false),
	}
}

// LoadSimConfig loads a SimConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSimConfig(path string) (*SimConfig, error) {
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

	cfg := EmptySimConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SimConfig) Validate() error {
	if c.Mode != nil {
		if _, err := field.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.Cars != nil && *c.Cars < 0 {
		return fmt.Errorf("cars must be non-negative, got %d", *c.Cars)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"step_delay", c.StepDelay},
		{"wall_interval_min", c.WallIntervalMin},
		{"wall_interval_max", c.WallIntervalMax},
		{"backoff_base", c.BackoffBase},
		{"backoff_max", c.BackoffMax},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}
	if c.WallIntervalMin != nil && c.WallIntervalMax != nil {
		lo := durationOr(c.WallIntervalMin, traffic.DefaultWallMinInterval)
		hi := durationOr(c.WallIntervalMax, traffic.DefaultWallMaxInterval)
		if hi < lo {
			return fmt.Errorf("wall_interval_max (%s) is less than wall_interval_min (%s)", hi, lo)
		}
	}

	if c.WallAttempts != nil && *c.WallAttempts < 1 {
		return fmt.Errorf("wall_attempts must be at least 1, got %d", *c.WallAttempts)
	}
	if c.BackoffMaxAttempts != nil && *c.BackoffMaxAttempts < 0 {
		return fmt.Errorf("backoff_max_attempts must be non-negative, got %d", *c.BackoffMaxAttempts)
	}
	if c.EventBuffer != nil && *c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", *c.EventBuffer)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetMode returns the lock strategy, or the default if unset or invalid.
func (c *SimConfig) GetMode() field.Mode {
	if c.Mode == nil {
		return field.DefaultMode
	}
	m, err := field.ParseMode(*c.Mode)
	if err != nil {
		return field.DefaultMode
	}
	return m
}

// GetLayoutPath returns the layout file path; empty means no file.
func (c *SimConfig) GetLayoutPath() string { return stringOr(c.LayoutPath, "") }

// GetCars returns the number of cars to create.
func (c *SimConfig) GetCars() int {
	if c.Cars == nil {
		return DefaultCars
	}
	return *c.Cars
}

// CarName returns the configured name of the i-th car (zero based), or ""
// if none was given.
func (c *SimConfig) CarName(i int) string {
	if i < 0 || i >= len(c.CarNames) {
		return ""
	}
	return c.CarNames[i]
}

// GetStepDelay returns the pause between a car's move attempts.
func (c *SimConfig) GetStepDelay() time.Duration {
	return durationOr(c.StepDelay, DefaultStepDelay)
}

// GetWallIntervalMin returns the shortest wall randomizer sleep.
func (c *SimConfig) GetWallIntervalMin() time.Duration {
	return durationOr(c.WallIntervalMin, traffic.DefaultWallMinInterval)
}

// GetWallIntervalMax returns the longest wall randomizer sleep. It is never
// less than the minimum.
func (c *SimConfig) GetWallIntervalMax() time.Duration {
	return max(durationOr(c.WallIntervalMax, traffic.DefaultWallMaxInterval), c.GetWallIntervalMin())
}

// GetWallAttempts returns how many cells the wall randomizer tries per step.
func (c *SimConfig) GetWallAttempts() int {
	if c.WallAttempts == nil {
		return traffic.DefaultWallAttempts
	}
	return *c.WallAttempts
}

// GetBackoff returns the lock waiting schedule.
func (c *SimConfig) GetBackoff() field.Backoff {
	b := field.Backoff{
		Base: durationOr(c.BackoffBase, field.DefaultBackoff.Base),
		Max:  durationOr(c.BackoffMax, field.DefaultBackoff.Max),
	}
	if c.BackoffMaxAttempts != nil {
		b.MaxAttempts = *c.BackoffMaxAttempts
	}
	return b
}

// GetListen returns the HTTP listen address; empty disables the API.
func (c *SimConfig) GetListen() string { return stringOr(c.Listen, DefaultListen) }

// GetGRPCListen returns the gRPC listen address; empty disables it.
func (c *SimConfig) GetGRPCListen() string { return stringOr(c.GRPCListen, "") }

// GetDBPath returns the SQLite path; empty disables persistence.
func (c *SimConfig) GetDBPath() string { return stringOr(c.DBPath, "") }

// GetRecordDir returns the frame log directory; empty disables it.
func (c *SimConfig) GetRecordDir() string { return stringOr(c.RecordDir, "") }

// GetTickLogDir returns the daily tick log directory; empty disables it.
func (c *SimConfig) GetTickLogDir() string { return stringOr(c.TickLogDir, "") }

// GetEventBuffer returns the channel buffer used by event subscribers.
func (c *SimConfig) GetEventBuffer() int {
	if c.EventBuffer == nil {
		return DefaultEventBuffer
	}
	return *c.EventBuffer
}

// GetVerbose reports whether atomic events are emitted.
func (c *SimConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
