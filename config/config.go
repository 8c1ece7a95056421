// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// Local transcript store
	SqlitePath string `mapstructure:"sqlite_path" validate:"required"`

	// Provider selection and credentials
	SttProvider  string `mapstructure:"stt_provider" validate:"required,oneof=openai deepgram"`
	LlmProvider  string `mapstructure:"llm_provider" validate:"required,oneof=openai anthropic"`
	OpenAIKey    string `mapstructure:"openai_api_key"`
	DeepgramKey  string `mapstructure:"deepgram_api_key"`
	AnthropicKey string `mapstructure:"anthropic_api_key"`
	LlmModel     string `mapstructure:"llm_model" validate:"required"`

	// Seed identity for the in-process auth holder (empty = not logged in)
	UserID string `mapstructure:"user_id"`

	Listen ListenConfig `mapstructure:"listen"`
}

// ListenConfig tunes the continuous-listening engine.
type ListenConfig struct {
	Language             string `mapstructure:"language" validate:"required"`
	CompletionDebounceMs int    `mapstructure:"completion_debounce_ms" validate:"required,min=100"`
	ScreenshotIntervalMs int    `mapstructure:"screenshot_interval_ms" validate:"required,min=1000"`
	HistorySize          int    `mapstructure:"history_size" validate:"required,min=1"`
	ClearOnResume        bool   `mapstructure:"clear_on_resume"`

	// Capture commands; the system-audio helper streams raw PCM on stdout.
	SystemAudioCommand string `mapstructure:"system_audio_command"`
	ScreenshotCommand  string `mapstructure:"screenshot_command"`
}

// CompletionDebounce returns the turn-completion debounce as a duration.
func (c ListenConfig) CompletionDebounce() time.Duration {
	return time.Duration(c.CompletionDebounceMs) * time.Millisecond
}

// ScreenshotInterval returns the screenshot tick as a duration.
func (c ListenConfig) ScreenshotInterval() time.Duration {
	return time.Duration(c.ScreenshotIntervalMs) * time.Millisecond
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	v.SetDefault("SERVICE_NAME", "listen-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", 9191)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("SQLITE_PATH", "auricle.db")

	v.SetDefault("STT_PROVIDER", "openai")
	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("DEEPGRAM_API_KEY", "")
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("LLM_MODEL", "gpt-4.1")

	v.SetDefault("USER_ID", "")

	v.SetDefault("LISTEN__LANGUAGE", "en")
	v.SetDefault("LISTEN__COMPLETION_DEBOUNCE_MS", 2000)
	v.SetDefault("LISTEN__SCREENSHOT_INTERVAL_MS", 5000)
	v.SetDefault("LISTEN__HISTORY_SIZE", 100)
	v.SetDefault("LISTEN__CLEAR_ON_RESUME", false)
	v.SetDefault("LISTEN__SYSTEM_AUDIO_COMMAND", "")
	v.SetDefault("LISTEN__SCREENSHOT_COMMAND", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
