package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the parking server.
type Config struct {
	HTTPPort     int
	DatabasePath string
	LogLevel     string
	StoreTimeout time.Duration
	Currency     string

	InstanceID string
	NodeID     int64

	MQTTBrokerURL   string
	MQTTTopicPrefix string
	RedisURL        string
	MDNSEnabled     bool
}

const (
	defaultHTTPPort        = 8080
	defaultDatabasePath    = "data/parking.db"
	defaultLogLevel        = "info"
	defaultStoreTimeout    = 2 * time.Second
	defaultCurrency        = "COP"
	defaultNodeID          = 1
	defaultMQTTTopicPrefix = "parking"
)

// fileConfig mirrors the optional YAML file named by PARKING_CONFIG.
type fileConfig struct {
	Server struct {
		HTTPPort     int    `yaml:"http_port"`
		LogLevel     string `yaml:"log_level"`
		InstanceID   string `yaml:"instance_id"`
		NodeID       *int64 `yaml:"node_id"`
		MDNS         *bool  `yaml:"mdns"`
		StoreTimeout string `yaml:"store_timeout"`
	} `yaml:"server"`
	Storage struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"storage"`
	Billing struct {
		Currency string `yaml:"currency"`
	} `yaml:"billing"`
	Sync struct {
		MQTTBrokerURL   string `yaml:"mqtt_broker_url"`
		MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
		RedisURL        string `yaml:"redis_url"`
	} `yaml:"sync"`
}

// Load resolves configuration using the YAML file named by PARKING_CONFIG.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("PARKING_CONFIG"))
}

// LoadFrom resolves configuration as defaults, then the YAML file at path (if
// non-empty), then PARKING_* environment variables.
func LoadFrom(path string) (Config, error) {
	cfg := Config{
		HTTPPort:        defaultHTTPPort,
		DatabasePath:    defaultDatabasePath,
		LogLevel:        defaultLogLevel,
		StoreTimeout:    defaultStoreTimeout,
		Currency:        defaultCurrency,
		NodeID:          defaultNodeID,
		MQTTTopicPrefix: defaultMQTTTopicPrefix,
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "parking"
		}
		cfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTPPort))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("node id %d out of range 0-1023", c.NodeID))
	}
	return errors.Join(errs...)
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.HTTPPort > 0 {
		c.HTTPPort = f.Server.HTTPPort
	}
	if f.Server.LogLevel != "" {
		c.LogLevel = f.Server.LogLevel
	}
	if f.Server.InstanceID != "" {
		c.InstanceID = f.Server.InstanceID
	}
	if f.Server.NodeID != nil {
		c.NodeID = *f.Server.NodeID
	}
	if f.Server.MDNS != nil {
		c.MDNSEnabled = *f.Server.MDNS
	}
	if f.Server.StoreTimeout != "" {
		d, err := time.ParseDuration(f.Server.StoreTimeout)
		if err != nil {
			return fmt.Errorf("invalid server.store_timeout: %w", err)
		}
		c.StoreTimeout = d
	}
	if f.Storage.DatabasePath != "" {
		c.DatabasePath = f.Storage.DatabasePath
	}
	if f.Billing.Currency != "" {
		c.Currency = f.Billing.Currency
	}
	if f.Sync.MQTTBrokerURL != "" {
		c.MQTTBrokerURL = f.Sync.MQTTBrokerURL
	}
	if f.Sync.MQTTTopicPrefix != "" {
		c.MQTTTopicPrefix = f.Sync.MQTTTopicPrefix
	}
	if f.Sync.RedisURL != "" {
		c.RedisURL = f.Sync.RedisURL
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PARKING_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PARKING_HTTP_PORT: %w", err)
		}
		c.HTTPPort = port
	}

	if v := os.Getenv("PARKING_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}

	if v := os.Getenv("PARKING_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("PARKING_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PARKING_STORE_TIMEOUT: %w", err)
		}
		c.StoreTimeout = d
	}

	if v := os.Getenv("PARKING_CURRENCY"); v != "" {
		c.Currency = v
	}

	if v := os.Getenv("PARKING_INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}

	if v := os.Getenv("PARKING_NODE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PARKING_NODE_ID: %w", err)
		}
		c.NodeID = id
	}

	if v, ok := os.LookupEnv("PARKING_MQTT_BROKER"); ok {
		c.MQTTBrokerURL = strings.TrimSpace(v)
	}

	if v := os.Getenv("PARKING_MQTT_PREFIX"); v != "" {
		c.MQTTTopicPrefix = v
	}

	if v, ok := os.LookupEnv("PARKING_REDIS_URL"); ok {
		c.RedisURL = strings.TrimSpace(v)
	}

	if v := os.Getenv("PARKING_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PARKING_MDNS: %w", err)
		}
		c.MDNSEnabled = enabled
	}

	return nil
}
