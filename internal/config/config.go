package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for krishibot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	LLM      LLMConfig      `json:"llm"`
	Speech   SpeechConfig   `json:"speech"`
	Channels ChannelsConfig `json:"channels"`
	Media    MediaConfig    `json:"media"`
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	Pipeline PipelineConfig `json:"pipeline"`
}

type GeneralConfig struct {
	LogLevel          string `json:"logLevel"`
	Language          string `json:"language"` // ISO-639-1 reply language tag, default "ml"
	FallbackReply     string `json:"fallbackReply"`
	UnsupportedReply  string `json:"unsupportedReply"`
	VoiceReplyEnabled bool   `json:"voiceReplyEnabled"`
	TemplatesPath     string `json:"templatesPath,omitempty"` // optional YAML prompt-template overrides
}

// LLMConfig configures the OpenAI-compatible completion provider (Groq by default).
type LLMConfig struct {
	APIBase     string `json:"apiBase"`
	APIKey      string `json:"apiKey"`
	Model       string `json:"model"`
	VisionModel string `json:"visionModel"`
}

type SpeechConfig struct {
	STT STTConfig `json:"stt"`
	TTS TTSConfig `json:"tts"`
}

// STTConfig configures the Whisper transcription endpoint.
// APIKey falls back to llm.apiKey when empty (Groq serves both).
type STTConfig struct {
	APIBase string `json:"apiBase"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model"`
}

type TTSConfig struct {
	Provider string `json:"provider"` // "openai" | "elevenlabs"
	APIBase  string `json:"apiBase"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model"`
	Voice    string `json:"voice"`
}

type ChannelsConfig struct {
	Twilio   TwilioConfig   `json:"twilio"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TwilioConfig struct {
	Enabled           bool   `json:"enabled"`
	AccountSID        string `json:"accountSid,omitempty"`
	AuthToken         string `json:"authToken,omitempty"`
	FromNumber        string `json:"fromNumber,omitempty"` // e.g. "whatsapp:+14155238886"
	WebhookPath       string `json:"webhookPath,omitempty"`
	ValidateSignature bool   `json:"validateSignature"`
	PublicURL         string `json:"publicUrl,omitempty"` // externally visible base URL, for signature validation
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// MediaConfig configures storage and serving of synthesized voice clips.
type MediaConfig struct {
	Dir              string `json:"dir"`
	DBPath           string `json:"dbPath"`
	BaseURL          string `json:"baseUrl,omitempty"` // public base URL the clips are served under
	RetentionMinutes int    `json:"retentionMinutes"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type PipelineConfig struct {
	AdapterTimeoutSeconds int `json:"adapterTimeoutSeconds"`
	VoiceTimeoutSeconds   int `json:"voiceTimeoutSeconds"`
	VoiceQueueSize        int `json:"voiceQueueSize"`
	VoiceWorkers          int `json:"voiceWorkers"`
	Concurrency           int `json:"concurrency"` // max concurrent pipeline runs per channel poller
}

// DefaultConfigDir returns the default config directory (~/.krishibot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".krishibot"
	}
	return filepath.Join(home, ".krishibot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Media.Dir = ExpandPath(cfg.Media.Dir)
	cfg.Media.DBPath = ExpandPath(cfg.Media.DBPath)
	cfg.General.TemplatesPath = ExpandPath(cfg.General.TemplatesPath)

	// The speech endpoints share the LLM key unless overridden (one Groq key
	// covers chat, vision, and whisper).
	if cfg.Speech.STT.APIKey == "" {
		cfg.Speech.STT.APIKey = cfg.LLM.APIKey
	}
	if cfg.Speech.TTS.APIKey == "" {
		cfg.Speech.TTS.APIKey = cfg.LLM.APIKey
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks structural validity: ports, timeouts, enumerations.
// Credential presence is checked separately by ValidateCredentials so that
// `init`-generated configs stay loadable before secrets are filled in.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.General.Language == "" {
		errs = append(errs, "general.language must be set (ISO-639-1 tag, e.g. \"ml\")")
	}
	if cfg.General.FallbackReply == "" {
		errs = append(errs, "general.fallbackReply must be non-empty")
	}
	if cfg.Media.RetentionMinutes < 1 {
		errs = append(errs, "media.retentionMinutes must be >= 1")
	}
	if cfg.Pipeline.AdapterTimeoutSeconds < 1 {
		errs = append(errs, "pipeline.adapterTimeoutSeconds must be >= 1")
	}
	if cfg.Pipeline.VoiceTimeoutSeconds < 1 {
		errs = append(errs, "pipeline.voiceTimeoutSeconds must be >= 1")
	}
	if cfg.Pipeline.Concurrency < 1 || cfg.Pipeline.Concurrency > 100 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 100")
	}
	switch cfg.Speech.TTS.Provider {
	case "", "openai", "elevenlabs":
		// valid
	default:
		errs = append(errs, "speech.tts.provider must be one of: openai, elevenlabs")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateCredentials checks that every credential the enabled features need
// is present. Called at serve startup; a missing credential is fatal there,
// never a per-request error.
func ValidateCredentials(cfg *Config) error {
	var errs []string

	if cfg.LLM.APIKey == "" {
		errs = append(errs, "llm.apiKey is required")
	}
	if cfg.Channels.Twilio.Enabled {
		if cfg.Channels.Twilio.AccountSID == "" {
			errs = append(errs, "channels.twilio.accountSid is required")
		}
		if cfg.Channels.Twilio.AuthToken == "" {
			errs = append(errs, "channels.twilio.authToken is required")
		}
		if cfg.Channels.Twilio.FromNumber == "" {
			errs = append(errs, "channels.twilio.fromNumber is required")
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required")
	}
	if cfg.General.VoiceReplyEnabled {
		if cfg.Speech.TTS.APIKey == "" {
			errs = append(errs, "speech.tts.apiKey is required when voice replies are enabled")
		}
		if cfg.Media.BaseURL == "" && cfg.Channels.Twilio.Enabled {
			errs = append(errs, "media.baseUrl is required when voice replies are enabled (Twilio fetches clips by URL)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
