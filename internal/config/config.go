package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// QueueConfig controls the delivery work queue: how many dispatch
// loops run per process, how they poll, and the retry policy applied
// to failed delivery attempts.
type QueueConfig struct {
	Workers            int     `yaml:"workers"`
	PollIntervalMs     int     `yaml:"pollIntervalMs"`
	MaxAttempts        int     `yaml:"maxAttempts"`
	BaseDelayMs        int     `yaml:"baseDelayMs"`
	BackoffFactor      float64 `yaml:"backoffFactor"`
	ProcessingLeaseSec int     `yaml:"processingLeaseSec"`
	ReclaimIntervalSec int     `yaml:"reclaimIntervalSec"`
}

// SheetTargetConfig identifies the spreadsheet a lead row is appended to.
type SheetTargetConfig struct {
	URL           string `yaml:"url"`
	SpreadsheetID string `yaml:"spreadsheetId"`
	Worksheet     string `yaml:"worksheet"`
	Token         string `yaml:"token"`
	TimeoutMs     int    `yaml:"timeoutMs"`
}

// CRMTargetConfig identifies the CRM pipeline a lead is pushed into.
type CRMTargetConfig struct {
	URL        string `yaml:"url"`
	PipelineID string `yaml:"pipelineId"`
	Token      string `yaml:"token"`
	TimeoutMs  int    `yaml:"timeoutMs"`
}

type TargetsConfig struct {
	Sheet SheetTargetConfig `yaml:"sheet"`
	CRM   CRMTargetConfig   `yaml:"crm"`
}

// SourceConfig is one inbound webhook source. The secret is compared
// against the X-Webhook-Secret header on ingestion requests.
type SourceConfig struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
}

// RetentionConfig controls TTL-like deletion of old terminal jobs and
// leads so that the database does not grow without bound over time.
// Only rows in a terminal status are ever deleted.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	JobsDays               int  `yaml:"jobsDays"`
	LeadsDays              int  `yaml:"leadsDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Queue     QueueConfig     `yaml:"queue"`
	Targets   TargetsConfig   `yaml:"targets"`
	Sources   []SourceConfig  `yaml:"sources"`
	Retention RetentionConfig `yaml:"retention"`
}

// SourceSecret returns the configured secret for a webhook source and
// whether the source is known at all.
func (c *Config) SourceSecret(name string) (string, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s.Secret, true
		}
	}
	return "", false
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return &cfg
}
