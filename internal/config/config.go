// Package config reads the opaque, persisted configuration surface named
// in spec.md §6 via viper, the way iamprashant-voice-ai's integration-api
// loads its own AppConfig. spec.md §1 excludes a file-based UI for editing
// config, not a file-based config loader itself, so viper is carried as the
// ambient config mechanism the same way the teacher carries godotenv for
// secrets.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Audio holds the fixed-format capture pipeline settings.
type Audio struct {
	InternalSampleRateHz int `mapstructure:"internal_sample_rate_hz" validate:"oneof=8000 16000"`
	InternalChannels     int `mapstructure:"internal_channels" validate:"eq=1"`
	RingBufferMs         int `mapstructure:"ring_buffer_ms" validate:"gt=0"`
}

// STT holds the managed STT controller's timing policy and vendor choice.
type STT struct {
	Provider           string  `mapstructure:"provider" validate:"required"`
	DrainTimeoutS      float64 `mapstructure:"drain_timeout_s" validate:"gt=0"`
	VadSpeechThreshold float64 `mapstructure:"vad_speech_threshold" validate:"gte=0,lte=1"`
	ResetDeadlineS     float64 `mapstructure:"reset_deadline_s" validate:"gt=0"`
}

// OSC holds the outgoing VRChat OSC transport and queue policy.
type OSC struct {
	Host            string  `mapstructure:"host" validate:"required"`
	Port            int     `mapstructure:"port" validate:"gte=1,lte=65535"`
	ChatboxAddress  string  `mapstructure:"chatbox_address" validate:"required"`
	TypingAddress   string  `mapstructure:"typing_address" validate:"required"`
	ChatboxMaxChars int     `mapstructure:"chatbox_max_chars" validate:"gt=0"`
	CooldownS       float64 `mapstructure:"cooldown_s" validate:"gt=0"`
	TTLS            float64 `mapstructure:"ttl_s" validate:"gt=0"`
}

// Languages holds the fixed source/target translation pair.
type Languages struct {
	SourceLanguage string `mapstructure:"source_language" validate:"required"`
	TargetLanguage string `mapstructure:"target_language" validate:"required"`
}

// LLM holds the translate provider's call policy.
type LLM struct {
	Provider         string `mapstructure:"provider" validate:"required"`
	Model            string `mapstructure:"model" validate:"required"`
	ConcurrencyLimit int    `mapstructure:"concurrency_limit" validate:"gte=1"`
}

// AppConfig is the full configuration surface spec.md §6 names.
type AppConfig struct {
	Audio        Audio     `mapstructure:"audio" validate:"required"`
	STT          STT       `mapstructure:"stt" validate:"required"`
	OSC          OSC       `mapstructure:"osc" validate:"required"`
	Languages    Languages `mapstructure:"languages" validate:"required"`
	LLM          LLM       `mapstructure:"llm" validate:"required"`
	SystemPrompt string    `mapstructure:"system_prompt" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.internal_sample_rate_hz", 16000)
	v.SetDefault("audio.internal_channels", 1)
	v.SetDefault("audio.ring_buffer_ms", 300)

	v.SetDefault("stt.provider", "deepgram")
	v.SetDefault("stt.drain_timeout_s", 5.0)
	v.SetDefault("stt.vad_speech_threshold", 0.5)
	v.SetDefault("stt.reset_deadline_s", 270.0)

	v.SetDefault("osc.host", "127.0.0.1")
	v.SetDefault("osc.port", 9000)
	v.SetDefault("osc.chatbox_address", "/chatbox/input")
	v.SetDefault("osc.typing_address", "/chatbox/typing")
	v.SetDefault("osc.chatbox_max_chars", 144)
	v.SetDefault("osc.cooldown_s", 1.5)
	v.SetDefault("osc.ttl_s", 7.0)

	v.SetDefault("languages.source_language", "en")
	v.SetDefault("languages.target_language", "en")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.concurrency_limit", 2)

	v.SetDefault("system_prompt", "Translate from ${sourceName} to ${targetName}. Respond with only the translation.")
}

// Load reads configuration from configPath (if set), else from
// LOKUTOR_CONFIG_PATH (if set), else from the working directory's
// config.json (a missing file there is not an error), and layers
// LOKUTOR_-prefixed environment variables on top (e.g. LOKUTOR_OSC_PORT),
// matching the env-override precedence of iamprashant-voice-ai's InitConfig.
func Load(configPath string) (*AppConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("."))
	setDefaults(v)

	v.SetEnvPrefix("LOKUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("LOKUTOR_CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}
