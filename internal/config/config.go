package config

import "time"

// Provider names accepted in Config.Provider.
const (
	ProviderREST    = "rest"
	ProviderLiveKit = "livekit"
)

// Values accepted in Config.AssumeMic.
const (
	MicGranted = "granted"
	MicDenied  = "denied"
)

// Config holds client configuration values.
type Config struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Room           string        `mapstructure:"room" yaml:"room"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	LeaveTimeout   time.Duration `mapstructure:"leave_timeout" yaml:"leave_timeout"`

	// EnableAudioDelay is how long after join the client is asked to unmute.
	EnableAudioDelay time.Duration `mapstructure:"enable_audio_delay" yaml:"enable_audio_delay"`
	AutoEnableAudio  bool          `mapstructure:"auto_enable_audio" yaml:"auto_enable_audio"`

	// AssumeMic skips the interactive microphone prompt: "granted", "denied" or empty.
	AssumeMic string `mapstructure:"assume_mic" yaml:"assume_mic"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`
	DiagAddr string `mapstructure:"diag_addr" yaml:"diag_addr"`

	LiveKit LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
}

// LiveKitConfig holds settings for the LiveKit room provisioner.
type LiveKitConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret string        `mapstructure:"api_secret" yaml:"api_secret"`
	Identity  string        `mapstructure:"identity" yaml:"identity"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Provider:         ProviderREST,
		APIURL:           "http://localhost:8082",
		Room:             "debate-room",
		RequestTimeout:   10 * time.Second,
		LeaveTimeout:     3 * time.Second,
		EnableAudioDelay: time.Second,
		AutoEnableAudio:  true,
		LogLevel:         "info",
		LogFile:          "voiceroom.log",
		LiveKit: LiveKitConfig{
			URL:      "ws://localhost:7880",
			TokenTTL: time.Hour,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// AutoEnableAudio is a plain bool and is left to the file/env layers.
func (c *Config) UpdateFrom(other Config) {
	if other.Provider != "" {
		c.Provider = other.Provider
	}
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.APIKey != "" {
		c.APIKey = other.APIKey
	}
	if other.Room != "" {
		c.Room = other.Room
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.LeaveTimeout != 0 {
		c.LeaveTimeout = other.LeaveTimeout
	}
	if other.EnableAudioDelay != 0 {
		c.EnableAudioDelay = other.EnableAudioDelay
	}
	if other.AssumeMic != "" {
		c.AssumeMic = other.AssumeMic
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFile != "" {
		c.LogFile = other.LogFile
	}
	if other.DiagAddr != "" {
		c.DiagAddr = other.DiagAddr
	}
	if other.LiveKit.URL != "" {
		c.LiveKit.URL = other.LiveKit.URL
	}
	if other.LiveKit.APIKey != "" {
		c.LiveKit.APIKey = other.LiveKit.APIKey
	}
	if other.LiveKit.APISecret != "" {
		c.LiveKit.APISecret = other.LiveKit.APISecret
	}
	if other.LiveKit.Identity != "" {
		c.LiveKit.Identity = other.LiveKit.Identity
	}
	if other.LiveKit.TokenTTL != 0 {
		c.LiveKit.TokenTTL = other.LiveKit.TokenTTL
	}
}
