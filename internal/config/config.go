package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
)

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
	global          = "global"
	builtin         = "default"
)

// DefaultPath is used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/ttsrec.yaml")
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Audio        *GlobalAudioConfig        `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
	Logging      LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Metrics      MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
	Server       ServerConfig              `mapstructure:"server" yaml:"server"`
}

type GlobalAudioConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// ConfigProfile is one entry under configs. Unset fields inherit from the
// default profile.
type ConfigProfile struct {
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Permission PermissionConfig `mapstructure:"permission" yaml:"permission"`
}

// Config is the resolved configuration for one profile.
type Config struct {
	Profile    string           `mapstructure:"-" yaml:"profile"`
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Permission PermissionConfig `mapstructure:"permission" yaml:"permission"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Audio struct {
		Backend          string // "global", "inherited", "profile-specific" or "default"
		SampleRate       string
		Format           string
		SilencePaddingMs string
		Source           string
		BufferFrames     string
	}
	Output struct {
		Directory string
	}
	Permission struct {
		CheckDeviceNodes string
	}
}

type AudioConfig struct {
	Backend          string `mapstructure:"backend" yaml:"backend"` // "pipewire", "malgo", "auto"
	SampleRate       int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Format           string `mapstructure:"format" yaml:"format"` // "pcm8", "pcm16", "pcm32", "float32"
	SilencePaddingMs *int   `mapstructure:"silence_padding_ms" yaml:"silence_padding_ms"`
	Source           string `mapstructure:"source" yaml:"source"`
	BufferFrames     int    `mapstructure:"buffer_frames" yaml:"buffer_frames"`
}

type OutputConfig struct {
	Directory string       `mapstructure:"directory" yaml:"directory"` // local path or ftp:// / sftp:// URL
	Remote    RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

type RemoteConfig struct {
	KeyFile               string `mapstructure:"key_file" yaml:"key_file,omitempty"`
	KnownHostsFile        string `mapstructure:"known_hosts_file" yaml:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

type PermissionConfig struct {
	CheckDeviceNodes *bool    `mapstructure:"check_device_nodes" yaml:"check_device_nodes"`
	DeviceNodes      []string `mapstructure:"device_nodes" yaml:"device_nodes,omitempty"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Profile: "default",
	Audio: AudioConfig{
		Backend:          "auto",
		SampleRate:       22050,
		Format:           string(audio.FormatPCM16),
		SilencePaddingMs: intPtr(150),
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Recordings", "TTS"),
		Remote:    RemoteConfig{TimeoutSeconds: 30},
	},
	Permission: PermissionConfig{
		CheckDeviceNodes: boolPtr(true),
	},
	Logging: LoggingConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	},
	Metrics: MetricsConfig{Enabled: true},
	Server:  ServerConfig{Port: "8080"},
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	c := defaultConfig
	c.Audio.SilencePaddingMs = intPtr(*defaultConfig.Audio.SilencePaddingMs)
	c.Permission.CheckDeviceNodes = boolPtr(*defaultConfig.Permission.CheckDeviceNodes)
	c.Permission.DeviceNodes = append([]string(nil), defaultConfig.Permission.DeviceNodes...)
	return &c
}

// LoadWithProfile reads configFile and resolves the named profile, or the
// file's active_config when profile is empty.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig := profileToConfig(selectedProfile)

	// Merge with default config if it exists and we're not already using default
	var base *Config
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = profileToConfig(defaultProfile)
		}
	}
	selectedConfig = mergeConfigs(base, selectedConfig)
	selectedConfig.Profile = configName

	// Global audio backend applies when no profile chose one
	if selectedConfig.Audio.Backend == "" && rootConfig.Audio != nil && rootConfig.Audio.Backend != "" {
		selectedConfig.Audio.Backend = rootConfig.Audio.Backend
		selectedConfig.Inheritance.Audio.Backend = global
	}

	selectedConfig.Logging = rootConfig.Logging
	selectedConfig.Metrics = rootConfig.Metrics
	selectedConfig.Server = rootConfig.Server

	applyDefaults(selectedConfig)

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Logging.File = expandPath(selectedConfig.Logging.File)

	if err := selectedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	configs := v.GetStringMap("configs")
	if _, ok := configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("TTSREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("metrics.enabled", defaultConfig.Metrics.Enabled)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("logging.max_size_mb", defaultConfig.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaultConfig.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", defaultConfig.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", defaultConfig.Logging.Compress)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if rootConfig.Audio != nil {
		if err := validateBackend(rootConfig.Audio.Backend); err != nil {
			return nil, fmt.Errorf("invalid global audio: %w", err)
		}
	}

	// Unmarshal drops profiles with no keys, such as "default: {}"; they
	// take every value from the built-in defaults
	if rootConfig.Configs == nil {
		rootConfig.Configs = make(map[string]*ConfigProfile)
	}
	for configName := range v.GetStringMap("configs") {
		if rootConfig.Configs[configName] == nil {
			rootConfig.Configs[configName] = &ConfigProfile{}
		}
	}

	if len(rootConfig.Configs) == 0 {
		return nil, errors.New("no configuration profiles defined under 'configs'")
	}

	for configName, configProfile := range rootConfig.Configs {
		if err := validateProfile(configProfile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks the fields that are set; unset ones are inherited.
func validateProfile(p *ConfigProfile) error {
	if err := validateBackend(p.Audio.Backend); err != nil {
		return err
	}
	if p.Audio.Format != "" {
		if _, err := audio.ParseSampleFormat(p.Audio.Format); err != nil {
			return fmt.Errorf("audio.format: %w", err)
		}
	}
	if p.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", p.Audio.SampleRate)
	}
	if p.Audio.SilencePaddingMs != nil && *p.Audio.SilencePaddingMs < 0 {
		return fmt.Errorf("audio.silence_padding_ms must be >= 0, got %d", *p.Audio.SilencePaddingMs)
	}
	if p.Audio.BufferFrames < 0 {
		return fmt.Errorf("audio.buffer_frames must be >= 0, got %d", p.Audio.BufferFrames)
	}
	return nil
}

func validateBackend(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto", "pipewire", "malgo", "miniaudio":
		return nil
	}
	return fmt.Errorf("unknown audio backend '%s' (expected auto, pipewire or malgo)", name)
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if err := validateBackend(c.Audio.Backend); err != nil {
		return err
	}
	sc, err := c.SessionConfig()
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if c.Output.Directory == "" {
		return errors.New("output.directory is required")
	}
	return nil
}

// SessionConfig converts the audio section to the recorder's parameters.
func (c *Config) SessionConfig() (audio.SessionConfig, error) {
	format, err := audio.ParseSampleFormat(c.Audio.Format)
	if err != nil {
		return audio.SessionConfig{}, err
	}
	sc := audio.DefaultSessionConfig()
	sc.SampleRate = c.Audio.SampleRate
	sc.Format = format
	sc.BufferFrames = c.Audio.BufferFrames
	sc.Source = c.Audio.Source
	if c.Audio.SilencePaddingMs != nil {
		sc.PaddingMs = *c.Audio.SilencePaddingMs
	}
	return sc, nil
}

// CheckDeviceNodes reports whether microphone access is verified before capture.
func (c *Config) CheckDeviceNodes() bool {
	return c.Permission.CheckDeviceNodes == nil || *c.Permission.CheckDeviceNodes
}

// RemoteTimeout bounds connection setup for ftp and sftp destinations.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Output.Remote.TimeoutSeconds) * time.Second
}

func profileToConfig(p *ConfigProfile) *Config {
	return &Config{
		Audio:      p.Audio,
		Output:     p.Output,
		Permission: p.Permission,
	}
}

// mergeConfigs overlays the set fields of profile on base and records where
// each value came from.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	inh := result.Inheritance

	if base != nil {
		result.Audio = base.Audio
		result.Output = base.Output
		result.Permission = base.Permission

		markIfSet := func(set bool, field *string) {
			if set {
				*field = inherited
			}
		}
		markIfSet(base.Audio.Backend != "", &inh.Audio.Backend)
		markIfSet(base.Audio.SampleRate != 0, &inh.Audio.SampleRate)
		markIfSet(base.Audio.Format != "", &inh.Audio.Format)
		markIfSet(base.Audio.SilencePaddingMs != nil, &inh.Audio.SilencePaddingMs)
		markIfSet(base.Audio.Source != "", &inh.Audio.Source)
		markIfSet(base.Audio.BufferFrames != 0, &inh.Audio.BufferFrames)
		markIfSet(base.Output.Directory != "", &inh.Output.Directory)
		markIfSet(base.Permission.CheckDeviceNodes != nil, &inh.Permission.CheckDeviceNodes)
	}

	if profile == nil {
		return result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		inh.Audio.Backend = profileSpecific
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		inh.Audio.SampleRate = profileSpecific
	}
	if profile.Audio.Format != "" {
		result.Audio.Format = profile.Audio.Format
		inh.Audio.Format = profileSpecific
	}
	if profile.Audio.SilencePaddingMs != nil {
		result.Audio.SilencePaddingMs = intPtr(*profile.Audio.SilencePaddingMs)
		inh.Audio.SilencePaddingMs = profileSpecific
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = profile.Audio.Source
		inh.Audio.Source = profileSpecific
	}
	if profile.Audio.BufferFrames != 0 {
		result.Audio.BufferFrames = profile.Audio.BufferFrames
		inh.Audio.BufferFrames = profileSpecific
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		inh.Output.Directory = profileSpecific
	}
	if profile.Output.Remote != (RemoteConfig{}) {
		result.Output.Remote = profile.Output.Remote
	}

	if profile.Permission.CheckDeviceNodes != nil {
		result.Permission.CheckDeviceNodes = boolPtr(*profile.Permission.CheckDeviceNodes)
		inh.Permission.CheckDeviceNodes = profileSpecific
	}
	if len(profile.Permission.DeviceNodes) > 0 {
		result.Permission.DeviceNodes = profile.Permission.DeviceNodes
	}

	return result
}

// applyDefaults fills whatever neither the profile nor its parent set.
func applyDefaults(c *Config) {
	inh := c.Inheritance
	fill := func(empty bool, apply func(), field *string) {
		if empty {
			apply()
			*field = builtin
		}
	}
	fill(c.Audio.Backend == "", func() { c.Audio.Backend = defaultConfig.Audio.Backend }, &inh.Audio.Backend)
	fill(c.Audio.SampleRate == 0, func() { c.Audio.SampleRate = defaultConfig.Audio.SampleRate }, &inh.Audio.SampleRate)
	fill(c.Audio.Format == "", func() { c.Audio.Format = defaultConfig.Audio.Format }, &inh.Audio.Format)
	fill(c.Audio.SilencePaddingMs == nil, func() {
		c.Audio.SilencePaddingMs = intPtr(*defaultConfig.Audio.SilencePaddingMs)
	}, &inh.Audio.SilencePaddingMs)
	fill(c.Output.Directory == "", func() { c.Output.Directory = defaultConfig.Output.Directory }, &inh.Output.Directory)
	fill(c.Permission.CheckDeviceNodes == nil, func() {
		c.Permission.CheckDeviceNodes = boolPtr(*defaultConfig.Permission.CheckDeviceNodes)
	}, &inh.Permission.CheckDeviceNodes)

	if c.Output.Remote.TimeoutSeconds <= 0 {
		c.Output.Remote.TimeoutSeconds = defaultConfig.Output.Remote.TimeoutSeconds
	}
	if c.Server.Port == "" {
		c.Server.Port = defaultConfig.Server.Port
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func intPtr(v int) *int {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}
