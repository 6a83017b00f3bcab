package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"` // debug | info | warn
		File  string `yaml:"file"`  // empty disables the file sink
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Engine struct {
		TickInterval           string `yaml:"tick_interval"`
		RevealDelay            string `yaml:"reveal_delay"`
		RevealDelayShowAnswers string `yaml:"reveal_delay_show_answers"`
		SessionPollEvery       string `yaml:"session_poll_every"`
	} `yaml:"engine"`
	Monitor struct {
		PollInterval       string  `yaml:"poll_interval"`
		ConnectivityWindow string  `yaml:"connectivity_window"`
		AnomalyFastSecs    float64 `yaml:"anomaly_fast_secs"`
		AnomalySlowSecs    float64 `yaml:"anomaly_slow_secs"`
	} `yaml:"monitor"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// every knob falls back to its default.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
