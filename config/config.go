package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Mongo   MongoConfig   `yaml:"mongo"`
	Redis   RedisConfig   `yaml:"redis"`
	Nats    NatsConfig    `yaml:"nats"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Gateway GatewayConfig `yaml:"gateway"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	Preview PreviewConfig `yaml:"preview"`
	Social  SocialConfig  `yaml:"social"`
	Blob    BlobConfig    `yaml:"blob"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type MongoConfig struct {
	URI         string   `yaml:"uri"`
	Addresses   []string `yaml:"addresses"` // uri 为空时由 host 列表拼接
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	AuthSource  string   `yaml:"auth_source"`
	MaxPoolSize int      `yaml:"max_pool_size"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NatsConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Enabled bool   `yaml:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Enabled bool     `yaml:"enabled"`
}

type GatewayConfig struct {
	NodeID        int64 `yaml:"node_id"`
	SendQueue     int   `yaml:"send_queue"`
	FanoutWorkers int   `yaml:"fanout_workers"`
	FanoutQueue   int   `yaml:"fanout_queue"`
	HeartbeatSec  int   `yaml:"heartbeat_sec"`
	MaxPerUser    int   `yaml:"max_per_user"`
}

type SweeperConfig struct {
	EverySec int `yaml:"every_sec"`
	Batch    int `yaml:"batch"`
}

type PreviewConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
	MaxBodyKB  int `yaml:"max_body_kb"`
}

type SocialConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type BlobConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Load reads the YAML config at path and applies defaults. A missing file is
// not an error; the defaults describe a single-node local setup.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "read config")
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.JWTSecret == "" {
		c.Server.JWTSecret = os.Getenv("CHAT_JWT_SECRET")
	}
	if c.Mongo.URI == "" && len(c.Mongo.Addresses) == 0 {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "fellowchat"
	}
	if c.Mongo.MaxPoolSize == 0 {
		c.Mongo.MaxPoolSize = 20
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 16
	}
	if c.Nats.URL == "" {
		c.Nats.URL = "nats://127.0.0.1:4222"
	}
	if c.Nats.Subject == "" {
		c.Nats.Subject = "chat.sync.events"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chat_notifications"
	}
	if c.Gateway.NodeID == 0 {
		c.Gateway.NodeID = 1
	}
	if c.Gateway.SendQueue == 0 {
		c.Gateway.SendQueue = 256
	}
	if c.Gateway.FanoutWorkers == 0 {
		c.Gateway.FanoutWorkers = 8
	}
	if c.Gateway.FanoutQueue == 0 {
		c.Gateway.FanoutQueue = 1024
	}
	if c.Gateway.HeartbeatSec == 0 {
		c.Gateway.HeartbeatSec = 30
	}
	if c.Sweeper.EverySec == 0 {
		c.Sweeper.EverySec = 5
	}
	if c.Sweeper.Batch == 0 {
		c.Sweeper.Batch = 256
	}
	if c.Preview.TimeoutSec == 0 {
		c.Preview.TimeoutSec = 5
	}
	if c.Preview.MaxBodyKB == 0 {
		c.Preview.MaxBodyKB = 512
	}
	if c.Social.TimeoutSec == 0 {
		c.Social.TimeoutSec = 3
	}
	if c.Blob.TimeoutSec == 0 {
		c.Blob.TimeoutSec = 10
	}
}

func (c *SweeperConfig) Every() time.Duration { return time.Duration(c.EverySec) * time.Second }
func (c *PreviewConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
