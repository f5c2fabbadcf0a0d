package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/enerlytic/internal/texts"
)

// BotConfig holds configuration for the bot process.
type BotConfig struct {
	ConfigPath               string
	TelegramAPIBase          string
	TelegramFileBase         string
	Timeout                  int
	SleepSeconds             int
	DropPending              bool
	PendingWindowSeconds     int64
	PendingMaxMessages       int
	MaxConcurrent            int
	OpenAIAPIKey             string
	OpenAIAPIBase            string
	OpenAIModel              string
	TranscribeModel          string
	Temperature              float64
	MaxTokens                int
	HistoryWindow            int
	CompletionTimeoutSeconds int
	CompletionMaxRetries     int
	SystemPrompt             string
	DataDir                  string
	DBPath                   string
	ModelProvider            string
	Commander                string
	DummyProviderScript      string
	DummyTranscriberScript   string
	DummyCommanderScript     string
	DummySendScript          string
	LogLevel                 string
	LogFormat                string
}

// fileConfig is the optional YAML overlay. Secrets are env-only.
type fileConfig struct {
	Telegram struct {
		APIRoot              string `yaml:"api_root"`
		Timeout              *int   `yaml:"timeout"`
		SleepSeconds         *int   `yaml:"sleep_seconds"`
		DropPending          *bool  `yaml:"drop_pending"`
		PendingWindowSeconds *int   `yaml:"pending_window_seconds"`
		PendingMaxMessages   *int   `yaml:"pending_max_messages"`
		MaxConcurrent        *int   `yaml:"max_concurrent"`
	} `yaml:"telegram"`
	OpenAI struct {
		APIBase         string   `yaml:"api_base"`
		Model           string   `yaml:"model"`
		TranscribeModel string   `yaml:"transcribe_model"`
		Temperature     *float64 `yaml:"temperature"`
		MaxTokens       *int     `yaml:"max_tokens"`
		TimeoutSeconds  *int     `yaml:"timeout_seconds"`
		MaxRetries      *int     `yaml:"max_retries"`
	} `yaml:"openai"`
	History struct {
		Window  *int   `yaml:"window"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"history"`
	SystemPrompt string `yaml:"system_prompt"`
	DBPath       string `yaml:"db_path"`
	Log          struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultBotConfig() BotConfig {
	return BotConfig{
		Timeout:                  30,
		SleepSeconds:             1,
		DropPending:              true,
		PendingWindowSeconds:     600,
		PendingMaxMessages:       50,
		MaxConcurrent:            8,
		OpenAIAPIBase:            "https://api.openai.com/v1",
		OpenAIModel:              "gpt-4o-2024-08-06",
		TranscribeModel:          "whisper-1",
		Temperature:              0.7,
		MaxTokens:                800,
		HistoryWindow:            20,
		CompletionTimeoutSeconds: 60,
		CompletionMaxRetries:     3,
		SystemPrompt:             texts.SystemPrompt,
		DataDir:                  "./data",
		ModelProvider:            "openai",
		Commander:                "telegram",
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// LoadBotConfig builds the bot configuration from defaults, the YAML file
// named by ENERLYTIC_CONFIG (if any) and environment variables, in that
// order of precedence.
func LoadBotConfig() (BotConfig, error) {
	cfg := defaultBotConfig()
	apiRoot := "https://api.telegram.org"

	if path := strings.TrimSpace(os.Getenv("ENERLYTIC_CONFIG")); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return BotConfig{}, err
		}
		cfg.ConfigPath = path
		if fc.Telegram.APIRoot != "" {
			apiRoot = fc.Telegram.APIRoot
		}
		applyFile(&cfg, fc)
	}

	var errs []error
	intVar := func(dst *int, key string) {
		n, err := envIntOrDefault(key, *dst)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = n
	}

	apiRoot = envOrDefault("TELEGRAM_API_ROOT", apiRoot)
	intVar(&cfg.Timeout, "TG_TIMEOUT")
	intVar(&cfg.SleepSeconds, "TG_SLEEP_SECONDS")
	cfg.DropPending = envBoolOrDefault("TG_DROP_PENDING", cfg.DropPending)
	pendingWindow := int(cfg.PendingWindowSeconds)
	intVar(&pendingWindow, "TG_PENDING_WINDOW_SECONDS")
	cfg.PendingWindowSeconds = int64(pendingWindow)
	intVar(&cfg.PendingMaxMessages, "TG_PENDING_MAX_MESSAGES")
	intVar(&cfg.MaxConcurrent, "MAX_CONCURRENT")

	cfg.OpenAIAPIBase = strings.TrimRight(envOrDefault("OPENAI_API_BASE", cfg.OpenAIAPIBase), "/")
	cfg.OpenAIModel = envOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.TranscribeModel = envOrDefault("OPENAI_TRANSCRIBE_MODEL", cfg.TranscribeModel)
	temp, err := envFloatOrDefault("OPENAI_TEMPERATURE", cfg.Temperature)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Temperature = temp
	}
	intVar(&cfg.MaxTokens, "OPENAI_MAX_TOKENS")
	intVar(&cfg.HistoryWindow, "HISTORY_WINDOW")
	intVar(&cfg.CompletionTimeoutSeconds, "COMPLETION_TIMEOUT_SECONDS")
	intVar(&cfg.CompletionMaxRetries, "COMPLETION_MAX_RETRIES")

	cfg.SystemPrompt = envOrDefault("ENERLYTIC_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.DataDir = envOrDefault("DATA_DIR", cfg.DataDir)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "events.db")
	}
	cfg.DBPath = envOrDefault("ENERLYTIC_DB_PATH", cfg.DBPath)

	cfg.ModelProvider = envOrDefault("ENERLYTIC_MODEL_PROVIDER", cfg.ModelProvider)
	cfg.Commander = envOrDefault("ENERLYTIC_COMMANDER", cfg.Commander)
	cfg.DummyProviderScript = envOrDefault("ENERLYTIC_DUMMY_PROVIDER_SCRIPT", "ok")
	cfg.DummyTranscriberScript = envOrDefault("ENERLYTIC_DUMMY_TRANSCRIBER_SCRIPT", "ok")
	cfg.DummyCommanderScript = envOrDefault("ENERLYTIC_DUMMY_COMMANDER_SCRIPT", "ok")
	cfg.DummySendScript = envOrDefault("ENERLYTIC_DUMMY_COMMANDER_SEND_SCRIPT", "ok")
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.Commander == "telegram" && telegramToken == "" {
		errs = append(errs, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when ENERLYTIC_COMMANDER=telegram"))
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.ModelProvider == "openai" && cfg.OpenAIAPIKey == "" {
		errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required in environment when ENERLYTIC_MODEL_PROVIDER=openai"))
	}
	apiRoot = strings.TrimRight(apiRoot, "/")
	cfg.TelegramAPIBase = fmt.Sprintf("%s/bot%s", apiRoot, telegramToken)
	cfg.TelegramFileBase = fmt.Sprintf("%s/file/bot%s", apiRoot, telegramToken)

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return BotConfig{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c BotConfig) validate() []error {
	var errs []error
	switch c.ModelProvider {
	case "openai", "dummy":
	default:
		errs = append(errs, fmt.Errorf("ENERLYTIC_MODEL_PROVIDER must be openai or dummy, got %q", c.ModelProvider))
	}
	switch c.Commander {
	case "telegram", "dummy":
	default:
		errs = append(errs, fmt.Errorf("ENERLYTIC_COMMANDER must be telegram or dummy, got %q", c.Commander))
	}
	positive := []struct {
		key   string
		value int
	}{
		{"TG_TIMEOUT", c.Timeout},
		{"TG_SLEEP_SECONDS", c.SleepSeconds},
		{"TG_PENDING_MAX_MESSAGES", c.PendingMaxMessages},
		{"MAX_CONCURRENT", c.MaxConcurrent},
		{"OPENAI_MAX_TOKENS", c.MaxTokens},
		{"HISTORY_WINDOW", c.HistoryWindow},
		{"COMPLETION_TIMEOUT_SECONDS", c.CompletionTimeoutSeconds},
	}
	for _, p := range positive {
		if p.value < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", p.key, p.value))
		}
	}
	if c.PendingWindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("TG_PENDING_WINDOW_SECONDS must be >= 0, got %d", c.PendingWindowSeconds))
	}
	if c.CompletionMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("COMPLETION_MAX_RETRIES must be >= 0, got %d", c.CompletionMaxRetries))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("OPENAI_TEMPERATURE must be within [0, 2], got %g", c.Temperature))
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		errs = append(errs, fmt.Errorf("system prompt must not be empty"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errs
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func applyFile(cfg *BotConfig, fc fileConfig) {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setStr := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}

	setInt(&cfg.Timeout, fc.Telegram.Timeout)
	setInt(&cfg.SleepSeconds, fc.Telegram.SleepSeconds)
	if fc.Telegram.DropPending != nil {
		cfg.DropPending = *fc.Telegram.DropPending
	}
	if fc.Telegram.PendingWindowSeconds != nil {
		cfg.PendingWindowSeconds = int64(*fc.Telegram.PendingWindowSeconds)
	}
	setInt(&cfg.PendingMaxMessages, fc.Telegram.PendingMaxMessages)
	setInt(&cfg.MaxConcurrent, fc.Telegram.MaxConcurrent)

	setStr(&cfg.OpenAIAPIBase, fc.OpenAI.APIBase)
	setStr(&cfg.OpenAIModel, fc.OpenAI.Model)
	setStr(&cfg.TranscribeModel, fc.OpenAI.TranscribeModel)
	if fc.OpenAI.Temperature != nil {
		cfg.Temperature = *fc.OpenAI.Temperature
	}
	setInt(&cfg.MaxTokens, fc.OpenAI.MaxTokens)
	setInt(&cfg.CompletionTimeoutSeconds, fc.OpenAI.TimeoutSeconds)
	setInt(&cfg.CompletionMaxRetries, fc.OpenAI.MaxRetries)

	setInt(&cfg.HistoryWindow, fc.History.Window)
	setStr(&cfg.DataDir, fc.History.DataDir)
	setStr(&cfg.SystemPrompt, fc.SystemPrompt)
	setStr(&cfg.DBPath, fc.DBPath)
	setStr(&cfg.LogLevel, fc.Log.Level)
	setStr(&cfg.LogFormat, fc.Log.Format)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envFloatOrDefault(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
