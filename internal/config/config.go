package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Audio device kinds
const (
	DeviceNone     = "none"
	DeviceNull     = "null"
	DeviceUDP      = "udp"
	DeviceWAV      = "wav"
	DeviceLoopback = "loopback"
	DeviceSpeaker  = "speaker"
)

// Config represents the complete service configuration
type Config struct {
	Profiles    ProfilesConfig    `yaml:"profiles"`
	Audio       AudioConfig       `yaml:"audio"`
	Receiver    ReceiverConfig    `yaml:"receiver"`
	Transmitter TransmitterConfig `yaml:"transmitter"`
	HTTP        HTTPConfig        `yaml:"http"`
	Forward     ForwardConfig     `yaml:"forward"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ProfilesConfig selects the profile document and the profile used at start
type ProfilesConfig struct {
	Path    string `yaml:"path"` // empty for the bundled profiles
	Default string `yaml:"default"`
}

// AudioConfig selects the capture and playback devices
type AudioConfig struct {
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
}

// InputConfig describes the capture device
type InputConfig struct {
	Kind       string `yaml:"kind"`        // none, udp, wav, loopback
	Address    string `yaml:"address"`     // udp listen address
	Path       string `yaml:"path"`        // wav file
	BufferSize int    `yaml:"buffer_size"` // udp socket buffer, bytes
	QueueSize  int    `yaml:"queue_size"`  // udp packet queue
	MaxGap     int    `yaml:"max_gap"`     // packets before loss is assumed
	IdleFlush  int    `yaml:"idle_flush"`  // milliseconds
}

// OutputConfig describes the playback device
type OutputConfig struct {
	Kind           string `yaml:"kind"`            // null, udp, wav, loopback, speaker
	Address        string `yaml:"address"`         // udp destination
	Path           string `yaml:"path"`            // wav file or directory
	Append         bool   `yaml:"append"`          // wav: one growing file
	PacketDuration int    `yaml:"packet_duration"` // udp, milliseconds
	BufferTime     int    `yaml:"buffer_time"`     // speaker, milliseconds
	Realtime       bool   `yaml:"realtime"`        // udp and loopback pacing
}

// ReceiverConfig tunes the frame receiver
type ReceiverConfig struct {
	Enabled          bool    `yaml:"enabled"`
	AccessGranted    bool    `yaml:"access_granted"` // initial microphone access
	QueueSize        int     `yaml:"queue_size"`     // events
	ChunkSize        int     `yaml:"chunk_size"`     // samples per read
	Threshold        float64 `yaml:"threshold"`      // 0 keeps the profile value
	Squelch          float64 `yaml:"squelch"`        // 0 keeps the profile value
	CarrierThreshold float64 `yaml:"carrier_threshold"`
}

// TransmitterConfig tunes the frame transmitter
type TransmitterConfig struct {
	Guard   int `yaml:"guard"`   // silence around each frame, milliseconds
	Pending int `yaml:"pending"` // frames allowed to wait behind the playing one
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// ForwardConfig contains webhook forwarding configuration
type ForwardConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Timeout         int    `yaml:"timeout"` // seconds
	MaxRetries      int    `yaml:"max_retries"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	IncludeFailures bool   `yaml:"include_failures"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for fields a file leaves out
func Default() Config {
	return Config{
		Profiles: ProfilesConfig{Default: "audible-fast"},
		Audio: AudioConfig{
			Input: InputConfig{
				Kind:       DeviceUDP,
				Address:    "0.0.0.0:4444",
				BufferSize: 65536,
				QueueSize:  1000,
				MaxGap:     20,
				IdleFlush:  200,
			},
			Output: OutputConfig{
				Kind:           DeviceNull,
				PacketDuration: 20,
				BufferTime:     100,
			},
		},
		Receiver: ReceiverConfig{
			Enabled:          true,
			AccessGranted:    true,
			QueueSize:        16,
			ChunkSize:        1024,
			CarrierThreshold: 0.01,
		},
		Transmitter: TransmitterConfig{Guard: 50, Pending: 1},
		HTTP:        HTTPConfig{Port: 8080, Address: "0.0.0.0", Enabled: true},
		Forward: ForwardConfig{
			Timeout:       10,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads and parses the configuration file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Profiles.Validate(); err != nil {
		return fmt.Errorf("profiles config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	if err := c.Transmitter.Validate(); err != nil {
		return fmt.Errorf("transmitter config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("forward config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates profile selection
func (p *ProfilesConfig) Validate() error {
	if p.Default == "" {
		return fmt.Errorf("default profile cannot be empty")
	}
	return nil
}

// Validate validates both audio devices
func (a *AudioConfig) Validate() error {
	if err := a.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := a.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// Validate validates the capture device
func (i *InputConfig) Validate() error {
	switch i.Kind {
	case DeviceNone, DeviceLoopback:
	case DeviceUDP:
		if i.Address == "" {
			return fmt.Errorf("address cannot be empty for udp input")
		}
		if i.BufferSize < 1024 {
			return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", i.BufferSize)
		}
		if i.QueueSize < 1 {
			return fmt.Errorf("queue_size must be at least 1, got %d", i.QueueSize)
		}
		if i.MaxGap < 1 {
			return fmt.Errorf("max_gap must be at least 1, got %d", i.MaxGap)
		}
		if i.IdleFlush < 0 {
			return fmt.Errorf("idle_flush cannot be negative, got %d", i.IdleFlush)
		}
	case DeviceWAV:
		if i.Path == "" {
			return fmt.Errorf("path cannot be empty for wav input")
		}
	default:
		return fmt.Errorf("kind must be one of [none, udp, wav, loopback], got '%s'", i.Kind)
	}
	return nil
}

// Validate validates the playback device
func (o *OutputConfig) Validate() error {
	switch o.Kind {
	case DeviceNull, DeviceLoopback:
	case DeviceUDP:
		if o.Address == "" {
			return fmt.Errorf("address cannot be empty for udp output")
		}
		if o.PacketDuration < 1 || o.PacketDuration > 1000 {
			return fmt.Errorf("packet_duration must be between 1 and 1000 ms, got %d", o.PacketDuration)
		}
	case DeviceWAV:
		if o.Path == "" {
			return fmt.Errorf("path cannot be empty for wav output")
		}
	case DeviceSpeaker:
		if o.BufferTime < 1 {
			return fmt.Errorf("buffer_time must be at least 1 ms, got %d", o.BufferTime)
		}
	default:
		return fmt.Errorf("kind must be one of [null, udp, wav, loopback, speaker], got '%s'", o.Kind)
	}
	return nil
}

// Validate validates receiver configuration
func (r *ReceiverConfig) Validate() error {
	if r.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", r.QueueSize)
	}

	if r.ChunkSize < 64 || r.ChunkSize > 65536 {
		return fmt.Errorf("chunk_size must be between 64 and 65536 samples, got %d", r.ChunkSize)
	}

	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", r.Threshold)
	}

	if r.Squelch < 0 || r.Squelch >= 1 {
		return fmt.Errorf("squelch must be between 0 and 1, got %f", r.Squelch)
	}

	if r.CarrierThreshold <= 0 || r.CarrierThreshold >= 1 {
		return fmt.Errorf("carrier_threshold must be between 0 and 1 (exclusive), got %f", r.CarrierThreshold)
	}

	return nil
}

// Validate validates transmitter configuration
func (t *TransmitterConfig) Validate() error {
	if t.Guard < 0 {
		return fmt.Errorf("guard cannot be negative, got %d", t.Guard)
	}
	if t.Pending < 0 || t.Pending > 16 {
		return fmt.Errorf("pending must be between 0 and 16, got %d", t.Pending)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates forwarding configuration
func (f *ForwardConfig) Validate() error {
	if !f.Enabled {
		return nil
	}

	if f.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if f.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", f.Timeout)
	}

	if f.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", f.MaxRetries)
	}

	if f.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", f.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration. Any output other than stdout and
// stderr is treated as a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetIdleFlushDuration returns the idle flush interval as a time.Duration
func (i *InputConfig) GetIdleFlushDuration() time.Duration {
	return time.Duration(i.IdleFlush) * time.Millisecond
}

// GetPacketDuration returns the UDP packet duration as a time.Duration
func (o *OutputConfig) GetPacketDuration() time.Duration {
	return time.Duration(o.PacketDuration) * time.Millisecond
}

// GetBufferTime returns the speaker buffer time as a time.Duration
func (o *OutputConfig) GetBufferTime() time.Duration {
	return time.Duration(o.BufferTime) * time.Millisecond
}

// GetGuardDuration returns the frame guard as a time.Duration
func (t *TransmitterConfig) GetGuardDuration() time.Duration {
	return time.Duration(t.Guard) * time.Millisecond
}

// GetTimeoutDuration returns the webhook timeout as a time.Duration
func (f *ForwardConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}
