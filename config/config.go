package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tracking engine configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Messaging MessagingConfig `yaml:"messaging"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Web       WebConfig       `yaml:"web"`
}

// WebConfig defines the local status HTTP server.
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and configures the local tracking store backend.
type StorageConfig struct {
	Backend    string      `yaml:"backend"` // "sqlite" or "redis"
	SQLitePath string      `yaml:"sqlite_path"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig defines the redis connection for the redis store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"` // well-known key holding the tracked set
}

// APIConfig defines the order resource endpoint.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MessagingConfig defines the push subscription backend.
type MessagingConfig struct {
	Backend     string      `yaml:"backend"` // "mqtt" or "kafka"
	MQTT        MQTTConfig  `yaml:"mqtt"`
	Kafka       KafkaConfig `yaml:"kafka"`
	TopicPrefix string      `yaml:"topic_prefix"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// TrackingConfig tunes cache lifetime, polling and reconnect behavior.
type TrackingConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffCap   time.Duration `yaml:"backoff_cap"`
	MaxFailures  int           `yaml:"max_failures"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "guesttrack.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "guesttrack:tracked_orders",
			},
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 10 * time.Second,
		},
		Messaging: MessagingConfig{
			Backend:     "mqtt",
			TopicPrefix: "guest/orders",
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Tracking: TrackingConfig{
			TTL:          30 * 24 * time.Hour,
			PollInterval: 10 * time.Second,
			BackoffBase:  time.Second,
			BackoffCap:   30 * time.Second,
			MaxFailures:  5,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8790,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
