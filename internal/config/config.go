// Package config provides configuration management for okpi.
// Configuration is loaded from ~/.okpi/config.yaml with environment variable
// overrides using the OKPI_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// OKPI_LISTENER_TRIGGER_PHRASE.
const EnvPrefix = "OKPI"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration structure for okpi.
type Config struct {
	Listener ListenerConfig `mapstructure:"listener" yaml:"listener"`
	Decoder  DecoderConfig  `mapstructure:"decoder" yaml:"decoder"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Journal  JournalConfig  `mapstructure:"journal" yaml:"journal"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ListenerConfig controls the listening state machine.
type ListenerConfig struct {
	// TriggerPhrase wakes the assistant, e.g. "ok pi".
	TriggerPhrase string `mapstructure:"trigger_phrase" yaml:"trigger_phrase"`

	// Timeout is how long the assistant stays active after the trigger.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Acknowledgement is said when the trigger is heard.
	Acknowledgement string `mapstructure:"acknowledgement" yaml:"acknowledgement"`

	// EchoGuard keeps the input muted this long after the assistant spoke.
	EchoGuard time.Duration `mapstructure:"echo_guard" yaml:"echo_guard"`

	// EchoPerWord extends the mute by this much per word of the reply. Set
	// it when replies are spoken by an external process (output.redis),
	// since the sink returns before playback ends. Zero with redis output
	// enabled means 400ms per word.
	EchoPerWord time.Duration `mapstructure:"echo_per_word" yaml:"echo_per_word"`

	// CommandSearch overrides the decoder's command search key.
	CommandSearch string `mapstructure:"command_search" yaml:"command_search,omitempty"`
}

// DecoderConfig selects and configures the speech recognizer.
type DecoderConfig struct {
	// Kind is "remote" or "scripted".
	Kind string `mapstructure:"kind" yaml:"kind"`

	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// AudioConfig configures microphone capture and file replay.
type AudioConfig struct {
	SampleRate      int  `mapstructure:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer int  `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"`
	Realtime        bool `mapstructure:"realtime" yaml:"realtime"`

	// TrailingSilence is appended to replayed files.
	TrailingSilence time.Duration `mapstructure:"trailing_silence" yaml:"trailing_silence"`
}

// OutputConfig configures where the assistant's replies go.
type OutputConfig struct {
	Console ConsoleOutputConfig `mapstructure:"console" yaml:"console"`
	Redis   RedisOutputConfig   `mapstructure:"redis" yaml:"redis"`
}

// ConsoleOutputConfig configures the terminal transcript.
type ConsoleOutputConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Name    string `mapstructure:"name" yaml:"name"`
}

// RedisOutputConfig configures publishing replies to Redis for speech
// synthesis.
type RedisOutputConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Channel  string        `mapstructure:"channel" yaml:"channel"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// JournalConfig configures the dispatch journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// DataDir returns the okpi data directory (~/.okpi).
func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".okpi")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	dataDir := DataDir()

	return &Config{
		Listener: ListenerConfig{
			TriggerPhrase:   "ok pi",
			Timeout:         8 * time.Second,
			Acknowledgement: "I have heard",
			EchoGuard:       750 * time.Millisecond,
		},
		Decoder: DecoderConfig{
			Kind:             "remote",
			Endpoint:         "ws://127.0.0.1:8765/ws/decoder",
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     2 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			FramesPerBuffer: 2048,
			Realtime:        true,
			TrailingSilence: time.Second,
		},
		Output: OutputConfig{
			Console: ConsoleOutputConfig{
				Enabled: true,
				Name:    "okpi",
			},
			Redis: RedisOutputConfig{
				Enabled: false,
				Addr:    "localhost:6379",
				Channel: "okpi:speech",
				Timeout: 2 * time.Second,
			},
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "journal.db"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "okpi.log"),
		},
	}
}

// Load reads configuration from the default location, creating it with
// default values if it doesn't exist.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads configuration from path and merges environment
// variables. If the file doesn't exist, it is created with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

// newViper configures a viper instance for path with defaults and OKPI_
// environment overrides.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults make every key known to viper, which AutomaticEnv needs to
	// override keys missing from the file.
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("listener.trigger_phrase", d.Listener.TriggerPhrase)
	v.SetDefault("listener.timeout", d.Listener.Timeout)
	v.SetDefault("listener.acknowledgement", d.Listener.Acknowledgement)
	v.SetDefault("listener.echo_guard", d.Listener.EchoGuard)
	v.SetDefault("listener.echo_per_word", d.Listener.EchoPerWord)
	v.SetDefault("listener.command_search", d.Listener.CommandSearch)

	v.SetDefault("decoder.kind", d.Decoder.Kind)
	v.SetDefault("decoder.endpoint", d.Decoder.Endpoint)
	v.SetDefault("decoder.handshake_timeout", d.Decoder.HandshakeTimeout)
	v.SetDefault("decoder.write_timeout", d.Decoder.WriteTimeout)
	v.SetDefault("decoder.ping_interval", d.Decoder.PingInterval)

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.frames_per_buffer", d.Audio.FramesPerBuffer)
	v.SetDefault("audio.realtime", d.Audio.Realtime)
	v.SetDefault("audio.trailing_silence", d.Audio.TrailingSilence)

	v.SetDefault("output.console.enabled", d.Output.Console.Enabled)
	v.SetDefault("output.console.name", d.Output.Console.Name)
	v.SetDefault("output.redis.enabled", d.Output.Redis.Enabled)
	v.SetDefault("output.redis.addr", d.Output.Redis.Addr)
	v.SetDefault("output.redis.password", d.Output.Redis.Password)
	v.SetDefault("output.redis.db", d.Output.Redis.DB)
	v.SetDefault("output.redis.channel", d.Output.Redis.Channel)
	v.SetDefault("output.redis.timeout", d.Output.Redis.Timeout)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Journal.Path = expandPath(cfg.Journal.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	return &cfg, nil
}

// SaveToPath writes the configuration to path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// YAML renders the configuration as it would be saved.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listener.TriggerPhrase) == "" {
		return fmt.Errorf("%w: listener.trigger_phrase cannot be empty", ErrInvalid)
	}
	if c.Listener.Timeout <= 0 {
		return fmt.Errorf("%w: listener.timeout must be positive", ErrInvalid)
	}
	if c.Listener.EchoGuard < 0 {
		return fmt.Errorf("%w: listener.echo_guard cannot be negative", ErrInvalid)
	}
	if c.Listener.EchoPerWord < 0 {
		return fmt.Errorf("%w: listener.echo_per_word cannot be negative", ErrInvalid)
	}

	switch c.Decoder.Kind {
	case "remote":
		if c.Decoder.Endpoint == "" {
			return fmt.Errorf("%w: decoder.endpoint is required for the remote decoder", ErrInvalid)
		}
	case "scripted":
	default:
		return fmt.Errorf("%w: invalid decoder.kind '%s', must be one of: remote, scripted", ErrInvalid, c.Decoder.Kind)
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sample_rate must be positive", ErrInvalid)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("%w: audio.frames_per_buffer must be positive", ErrInvalid)
	}

	if c.Output.Redis.Enabled && c.Output.Redis.Addr == "" {
		return fmt.Errorf("%w: output.redis.addr is required when redis output is enabled", ErrInvalid)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("%w: journal.path is required when the journal is enabled", ErrInvalid)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required when metrics are enabled", ErrInvalid)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level '%s', must be one of: trace, debug, info, warn, error", ErrInvalid, c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes cfg as YAML using the yaml struct tags.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
