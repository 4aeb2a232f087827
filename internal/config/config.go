package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	PublicBaseURL string `json:"public_base_url"`
	FallbackReply string `json:"fallback_reply"`
	HTTP          struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Twilio struct {
		AccountSID          string `json:"account_sid"`
		AuthToken           string `json:"auth_token"`
		WhatsAppFrom        string `json:"whatsapp_from"`
		WelcomeTemplateSID  string `json:"welcome_template_sid"`
		ReengageTemplateSID string `json:"reengage_template_sid"`
		StatusCallbackURL   string `json:"status_callback_url"`
	} `json:"twilio"`
	Matching struct {
		AcceptThreshold     float64 `json:"accept_threshold"`
		CosineThreshold     float64 `json:"cosine_threshold"`
		ShortInputThreshold float64 `json:"short_input_threshold"`
	} `json:"matching"`
	Delivery struct {
		MaxRetries       int `json:"max_retries"`
		BaseDelayMS      int `json:"base_delay_ms"`
		ConfirmTimeoutMS int `json:"confirm_timeout_ms"`
		PollIntervalMS   int `json:"poll_interval_ms"`
		TemplateDelayMS  int `json:"template_delay_ms"`
		TextDelayMS      int `json:"text_delay_ms"`
		MediaDelayMS     int `json:"media_delay_ms"`
	} `json:"delivery"`
	Dormancy struct {
		WindowHours   int    `json:"window_hours"`
		SweepSchedule string `json:"sweep_schedule"`
	} `json:"dormancy"`
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".kasuwabot"),
		LogLevel:      "info",
		MaxConcurrent: 4,
		FallbackReply: "Mun gode da sakonka. Ba mu gane tambayar ba sosai, don Allah sake rubutawa.",
	}
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":3000"
	cfg.Matching.AcceptThreshold = 0.45
	cfg.Matching.CosineThreshold = 0.50
	cfg.Matching.ShortInputThreshold = 0.30
	cfg.Delivery.MaxRetries = 2
	cfg.Delivery.BaseDelayMS = 800
	cfg.Delivery.ConfirmTimeoutMS = 20000
	cfg.Delivery.PollIntervalMS = 500
	cfg.Delivery.TemplateDelayMS = 1200
	cfg.Delivery.TextDelayMS = 1500
	cfg.Delivery.MediaDelayMS = 4500
	cfg.Dormancy.WindowHours = 24
	return cfg
}

// Load reads the config file at path, writing defaults on first run. A .env
// file in the working directory is loaded first; environment variables take
// highest precedence over file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_WHATSAPP_NUMBER"); v != "" {
		cfg.Twilio.WhatsAppFrom = v
	}
	if v := os.Getenv("TWILIO_TEMPLATE_SID"); v != "" {
		cfg.Twilio.WelcomeTemplateSID = v
	}
	if v := os.Getenv("WHATSAPP_REENGAGE_TEMPLATE_SID"); v != "" {
		cfg.Twilio.ReengageTemplateSID = v
	}
	if v := os.Getenv("TWILIO_STATUS_CALLBACK_URL"); v != "" {
		cfg.Twilio.StatusCallbackURL = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}

	return cfg, nil
}

// Save writes cfg to path using atomic write (temp file + rename).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ListValues returns the config as a flat dot-keyed map, optionally masking
// secret values for display.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads a single dot-keyed value from the config file at path.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	values, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	val, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue updates a single dot-keyed value in the config file at path. The
// raw value is parsed as JSON when possible (numbers, booleans) and treated
// as a string otherwise.
func SetValue(path, key, raw string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	values, err := ListValues(cfg, false)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		val = raw
	}
	values[key] = val

	nested := Unflatten(values)
	data, err := json.Marshal(nested)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	updated := defaults()
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("apply config value: %w", err)
	}
	return Save(path, updated)
}
