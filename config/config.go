package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"wwcpsync/domain"
	"wwcpsync/roaming"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	NodeID    string          `yaml:"node_id"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Web       WebConfig       `yaml:"web"`
	Partners  []PartnerConfig `yaml:"partners"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	IngestTopic         string        `yaml:"ingest_topic"`
	AckTopic            string        `yaml:"ack_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// PartnerConfig describes one roaming partner and its adapter.
type PartnerConfig struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Transport string        `yaml:"transport"` // "http" or "bus"
	BaseURL   string        `yaml:"base_url"`
	Topic     string        `yaml:"topic"`
	Timeout   time.Duration `yaml:"timeout"`
	BatchSize int           `yaml:"batch_size"`

	FlushDataEvery time.Duration `yaml:"flush_data_every"`
	FlushFastEvery time.Duration `yaml:"flush_fast_every"`
	FlushCDRsEvery time.Duration `yaml:"flush_cdrs_every"`
	FlushTimeout   time.Duration `yaml:"flush_timeout"`

	DisablePushData   bool `yaml:"disable_push_data"`
	DisablePushStatus bool `yaml:"disable_push_status"`
	DisablePushAdmin  bool `yaml:"disable_push_admin_status"`
	DisableSendCDRs   bool `yaml:"disable_send_cdrs"`
	DisableAutoFlush  bool `yaml:"disable_auto_flush"`
	DirectByDefault   bool `yaml:"direct_by_default"`

	IncludeEVSEPrefixes []string `yaml:"include_evse_prefixes"`
	ExcludeCDROperators []string `yaml:"exclude_cdr_operators"`
}

func Defaults() *Config {
	return &Config{
		NodeID: "wwcpsync",
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "wwcpsync.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "wwcpsync",
				User:     "wwcpsync",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "wwcp",
		},
		Messaging: MessagingConfig{
			Backend: "mqtt",
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "wwcpsync",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "wwcpsync",
			},
			IngestTopic:         "wwcp.ingest",
			AckTopic:            "wwcp.acks",
			OutboxDrainInterval: 5 * time.Second,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8085,
			SessionSecret: "change-me-in-production",
		},
	}
}

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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks partner entries for duplicates and missing endpoints.
func (c *Config) Validate() error {
	if c.Messaging.OutboxDrainInterval <= 0 {
		return fmt.Errorf("messaging.outbox_drain_interval must be positive, got %s", c.Messaging.OutboxDrainInterval)
	}
	seen := make(map[string]bool)
	for i, p := range c.Partners {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("partners[%d]: missing id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("partners[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		switch p.Transport {
		case "http":
			if p.BaseURL == "" {
				return fmt.Errorf("partner %s: http transport needs base_url", p.ID)
			}
		case "bus":
			if p.Topic == "" {
				return fmt.Errorf("partner %s: bus transport needs topic", p.ID)
			}
		default:
			return fmt.Errorf("partner %s: unknown transport %q", p.ID, p.Transport)
		}
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }

// AdapterConfig turns the partner entry into an adapter configuration.
func (p PartnerConfig) AdapterConfig() roaming.Config {
	rc := roaming.Config{
		FlushEVSEDataAndStatusEvery:    p.FlushDataEvery,
		FlushEVSEFastStatusEvery:       p.FlushFastEvery,
		FlushChargeDetailRecordsEvery:  p.FlushCDRsEvery,
		FlushTimeout:                   p.FlushTimeout,
		RequestTimeout:                 p.Timeout,
		DisablePushData:                p.DisablePushData,
		DisablePushStatus:              p.DisablePushStatus,
		DisablePushAdminStatus:         p.DisablePushAdmin,
		DisableSendChargeDetailRecords: p.DisableSendCDRs,
		DisableAutoFlush:               p.DisableAutoFlush,
	}
	if p.DirectByDefault {
		rc.DefaultMode = roaming.Direct
	}
	if len(p.IncludeEVSEPrefixes) > 0 {
		prefixes := make([]string, len(p.IncludeEVSEPrefixes))
		for i, pre := range p.IncludeEVSEPrefixes {
			prefixes[i] = domain.NormalizeKey(pre)
		}
		rc.IncludeEVSEIDs = func(id domain.EVSEID) bool {
			key := domain.Key(id)
			for _, pre := range prefixes {
				if strings.HasPrefix(key, pre) {
					return true
				}
			}
			return false
		}
	}
	if len(p.ExcludeCDROperators) > 0 {
		excluded := make(map[string]bool, len(p.ExcludeCDROperators))
		for _, op := range p.ExcludeCDROperators {
			excluded[domain.NormalizeKey(op)] = true
		}
		rc.ChargeDetailRecordFilter = func(c *domain.ChargeDetailRecord) domain.CDRFilterDecision {
			if excluded[domain.Key(c.OperatorID)] {
				return domain.CDRFilter
			}
			return domain.CDRForward
		}
	}
	return rc
}
