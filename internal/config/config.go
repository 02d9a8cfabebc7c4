// Package config loads the JSON configuration file, applies environment
// overrides and supports dotted-key reads and writes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/user/metatron/internal/resilience"
)

// Duration is a time.Duration stored as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	// bare numbers are seconds
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

type Config struct {
	DataDir             string   `json:"data_dir"`
	LogLevel            string   `json:"log_level"`
	MaxConcurrent       int      `json:"max_concurrent"`
	MaxToolRounds       int      `json:"max_tool_rounds"`
	MaxParallelTools    int      `json:"max_parallel_tools"`
	TranscriptRetention Duration `json:"transcript_retention"`
	LLM                 struct {
		Provider         string   `json:"provider"`
		BaseURL          string   `json:"base_url"`
		APIKey           string   `json:"api_key"`
		Model            string   `json:"model"`
		MaxTokens        int      `json:"max_tokens"`
		Temperature      float32  `json:"temperature"`
		MaxContextTokens int      `json:"max_context_tokens"`
		OutputReserve    int      `json:"output_reserve"`
		Timeout          Duration `json:"timeout"`
	} `json:"llm"`
	HTTP struct {
		Listen       string  `json:"listen"`
		IngressRPS   float64 `json:"ingress_rps"`
		IngressBurst int     `json:"ingress_burst"`
	} `json:"http"`
	Jina struct {
		APIKey      string   `json:"api_key"`
		MaxRequests int      `json:"max_requests"`
		Window      Duration `json:"window"`
	} `json:"jina"`
	Brave struct {
		APIKey string `json:"api_key"`
	} `json:"brave"`
	Retry struct {
		MaxRetries    int      `json:"max_retries"`
		BaseDelay     Duration `json:"base_delay"`
		MaxDelay      Duration `json:"max_delay"`
		BackoffFactor float64  `json:"backoff_factor"`
		Timeout       Duration `json:"timeout"`
	} `json:"retry"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Schedule struct {
		Sweep  string `json:"sweep"`
		Prune  string `json:"prune"`
		Health string `json:"health"`
	} `json:"schedule"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		DataDir:             filepath.Join(os.Getenv("HOME"), ".metatron"),
		LogLevel:            "info",
		MaxConcurrent:       4,
		MaxToolRounds:       10,
		MaxParallelTools:    4,
		TranscriptRetention: Duration{7 * 24 * time.Hour},
	}
	cfg.LLM.Provider = "gemini"
	cfg.LLM.Model = "gemini-2.0-flash"
	cfg.LLM.MaxTokens = 4096
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.Timeout = Duration{60 * time.Second}
	cfg.HTTP.Listen = ":8000"
	cfg.HTTP.IngressRPS = 2
	cfg.HTTP.IngressBurst = 10
	cfg.Jina.MaxRequests = 100
	cfg.Jina.Window = Duration{60 * time.Second}

	p := resilience.DefaultRetryPolicy()
	cfg.Retry.MaxRetries = p.MaxRetries
	cfg.Retry.BaseDelay = Duration{p.BaseDelay}
	cfg.Retry.MaxDelay = Duration{p.MaxDelay}
	cfg.Retry.BackoffFactor = p.BackoffFactor
	cfg.Retry.Timeout = Duration{p.Timeout}

	cfg.Schedule.Sweep = "@every 5m"
	cfg.Schedule.Prune = "@daily"
	cfg.Schedule.Health = "@every 1m"
	return cfg
}

// RetryPolicy returns the configured default tool retry policy.
func (c *Config) RetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:    c.Retry.MaxRetries,
		BaseDelay:     c.Retry.BaseDelay.Duration,
		MaxDelay:      c.Retry.MaxDelay.Duration,
		BackoffFactor: c.Retry.BackoffFactor,
		Timeout:       c.Retry.Timeout.Duration,
	}
}

// Load reads the config at path over the defaults. A missing file is
// created with the defaults. Environment variables take precedence over
// the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	switch cfg.LLM.Provider {
	case "gemini":
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if v := os.Getenv(name); v != "" {
				cfg.LLM.APIKey = v
				break
			}
		}
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
		if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
			cfg.LLM.BaseURL = v
		}
	}
	if v := os.Getenv("JINA_API_KEY"); v != "" {
		cfg.Jina.APIKey = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.Brave.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("METATRON_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("PORT"); v != "" && os.Getenv("METATRON_LISTEN") == "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Listen = ":" + v
		}
	}
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting of cfg keyed by dotted path, with
// secrets masked when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the file at the dotted key. The
// file is created with defaults if missing; env overrides are not applied.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value at the dotted key of an existing config file. The
// key must name a known setting and value is converted to that setting's
// type. The file is left untouched if the result would not load.
func SetValue(path, key, value string) error {
	known, err := ToMap(Default())
	if err != nil {
		return err
	}
	sample, ok := Flatten(known)[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	parsed, err := coerce(sample, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, Default()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// coerce parses value as the JSON type of sample. Strings are taken as
// given, so numeric-looking secrets stay strings.
func coerce(sample any, value string) (any, error) {
	switch sample.(type) {
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", value)
		}
		return f, nil
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", value)
		}
		return b, nil
	default:
		return value, nil
	}
}
