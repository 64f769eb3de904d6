// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Addr     string
	LogLevel string

	// CORS-style origin allowlist for the WebSocket upgrade.
	// Empty means any origin.
	AllowedOrigins map[string]struct{}

	// Providers.
	STTBaseURL        string
	STTAPIKey         string
	STTModel          string
	TranslateProvider string // "gemini" or "http"
	TranslateBaseURL  string
	TranslateAPIKey   string
	TranslateModel    string
	TTSBaseURL        string
	TTSAPIKey         string

	// Empty DatabaseURL runs with the in-memory store.
	DatabaseURL string

	// Transport limits.
	MaxMessageBytes   int64
	SendQueueSize     int
	AudioMaxFPS       int
	AudioBurstSeconds int
	PingInterval      time.Duration
	WriteTimeout      time.Duration

	// Pipeline tunables.
	TranslateTimeout   time.Duration
	CacheMaxEntries    int
	SpeakerIdleTimeout time.Duration
	ReapInterval       time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv reads configuration from VOXMEET_* environment variables.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:     envOr("VOXMEET_ADDR", ":8080"),
		LogLevel: envOr("VOXMEET_LOG_LEVEL", "info"),

		STTBaseURL:        envOr("VOXMEET_STT_URL", "wss://stt.voxmeet.dev"),
		STTAPIKey:         os.Getenv("VOXMEET_STT_API_KEY"),
		STTModel:          envOr("VOXMEET_STT_MODEL", "conference-enhanced"),
		TranslateProvider: envOr("VOXMEET_TRANSLATE_PROVIDER", "gemini"),
		TranslateBaseURL:  os.Getenv("VOXMEET_TRANSLATE_URL"),
		TranslateAPIKey:   os.Getenv("VOXMEET_TRANSLATE_API_KEY"),
		TranslateModel:    envOr("VOXMEET_TRANSLATE_MODEL", "gemini-2.0-flash"),
		TTSBaseURL:        envOr("VOXMEET_TTS_URL", "https://tts.voxmeet.dev"),
		TTSAPIKey:         os.Getenv("VOXMEET_TTS_API_KEY"),

		DatabaseURL: os.Getenv("VOXMEET_DATABASE_URL"),

		MaxMessageBytes:   envInt64Or("VOXMEET_MAX_MESSAGE_BYTES", 10<<20), // 10 MiB
		SendQueueSize:     envIntOr("VOXMEET_SEND_QUEUE_SIZE", 64),
		AudioMaxFPS:       envIntOr("VOXMEET_AUDIO_MAX_FPS", 100),
		AudioBurstSeconds: envIntOr("VOXMEET_AUDIO_BURST_SECONDS", 1),
		PingInterval:      envDurationOr("VOXMEET_PING_INTERVAL", 20*time.Second),
		WriteTimeout:      envDurationOr("VOXMEET_WRITE_TIMEOUT", 5*time.Second),

		TranslateTimeout:   envDurationOr("VOXMEET_TRANSLATE_TIMEOUT", 10*time.Second),
		CacheMaxEntries:    envIntOr("VOXMEET_CACHE_MAX_ENTRIES", 500),
		SpeakerIdleTimeout: envDurationOr("VOXMEET_SPEAKER_IDLE_TIMEOUT", 30*time.Second),
		ReapInterval:       envDurationOr("VOXMEET_REAP_INTERVAL", 30*time.Second),

		ReadHeaderTimeout:   envDurationOr("VOXMEET_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXMEET_SHUTDOWN_GRACE", 15*time.Second),
	}

	cfg.AllowedOrigins = splitSet(os.Getenv("VOXMEET_ALLOWED_ORIGINS"))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.TranslateProvider {
	case "gemini", "http":
	default:
		return fmt.Errorf("config: unsupported translate provider %q", c.TranslateProvider)
	}
	if c.TranslateProvider == "http" && c.TranslateBaseURL == "" {
		return fmt.Errorf("config: VOXMEET_TRANSLATE_URL required for http translate provider")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: VOXMEET_MAX_MESSAGE_BYTES must be positive")
	}
	if c.AudioMaxFPS <= 0 {
		return fmt.Errorf("config: VOXMEET_AUDIO_MAX_FPS must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Or(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitSet(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}
