// Package config defines the broker's configuration surface (spec §6):
// server listeners, limits, session defaults, auth, acl, bridge peers,
// cluster peers, metrics, logging, and persistence, loaded from YAML with
// VIBEMQ__-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Listener is one network endpoint the broker accepts connections on.
type Listener struct {
	URL      string `yaml:"url" validate:"required"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type Server struct {
	MQTT      Listener   `yaml:"mqtt"`
	MQTTTLS   *Listener  `yaml:"mqtt_tls"`
	WebSocket *Listener  `yaml:"websocket"`
}

type Limits struct {
	MaxInflight       int `yaml:"max_inflight" validate:"gte=0"`
	MaxAwaitingRel    int `yaml:"max_awaiting_rel" validate:"gte=0"`
	MaxQueuedMessages int `yaml:"max_queued_messages" validate:"gte=0"`
	MaxTopicAliases   int `yaml:"max_topic_aliases" validate:"gte=0"`
	MaxPacketSize     int `yaml:"max_packet_size" validate:"gte=0"`
}

type Session struct {
	DefaultExpiryInterval uint32 `yaml:"default_expiry_interval"`
	MaxExpiryInterval     uint32 `yaml:"max_expiry_interval"`
}

type MQTT struct {
	ReceiveMaximum     uint16 `yaml:"receive_maximum"`
	MaximumQoS         byte   `yaml:"maximum_qos" validate:"lte=2"`
	RetainAvailable    bool   `yaml:"retain_available"`
	WildcardAvailable  bool   `yaml:"wildcard_subscription_available"`
	SharedSubAvailable bool   `yaml:"shared_subscription_available"`
}

// User is one statically-configured account. Exactly one of Password or
// PasswordHash must be set; ValidatePasswordExclusivity enforces this.
type User struct {
	Username     string `yaml:"username" validate:"required"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

type Auth struct {
	Enabled         bool   `yaml:"enabled"`
	AllowAnonymous  bool   `yaml:"allow_anonymous"`
	Users           []User `yaml:"users" validate:"dive"`
}

type Role struct {
	Name      string   `yaml:"name" validate:"required"`
	Publish   []string `yaml:"publish"`
	Subscribe []string `yaml:"subscribe"`
}

type ACL struct {
	Enabled        bool   `yaml:"enabled"`
	DefaultAllow   bool   `yaml:"default_allow"`
	Roles          []Role `yaml:"roles" validate:"dive"`
}

type Bridge struct {
	Name        string   `yaml:"name" validate:"required"`
	URL         string   `yaml:"url" validate:"required"`
	Topics      []string `yaml:"topics"`
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
}

type ClusterPeer struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required"`
}

type Metrics struct {
	Enabled     bool   `yaml:"enabled"`
	ListenURL   string `yaml:"listen_url"`
	SysInterval int    `yaml:"sys_interval_seconds"`
}

type Log struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Persistence struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	RedisURL string `yaml:"redis_url"`
}

type Config struct {
	Server      Server      `yaml:"server"`
	Limits      Limits      `yaml:"limits"`
	Session     Session     `yaml:"session"`
	MQTT        MQTT        `yaml:"mqtt"`
	Auth        Auth        `yaml:"auth"`
	ACL         ACL         `yaml:"acl"`
	Bridge      []Bridge    `yaml:"bridge" validate:"dive"`
	Cluster     []ClusterPeer `yaml:"cluster" validate:"dive"`
	Metrics     Metrics     `yaml:"metrics"`
	Log         Log         `yaml:"log"`
	Persistence Persistence `yaml:"persistence"`
}

// Default returns the broker's built-in defaults, generalizing the
// teacher's single-listener CONFIG var into the full surface above.
func Default() *Config {
	return &Config{
		Server: Server{MQTT: Listener{URL: "tcp://127.0.0.1:1883"}},
		Limits: Limits{
			MaxInflight:       32,
			MaxAwaitingRel:    32,
			MaxQueuedMessages: 1000,
			MaxTopicAliases:   16,
			MaxPacketSize:     268435455,
		},
		Session: Session{DefaultExpiryInterval: 3600, MaxExpiryInterval: 0xFFFFFFFF},
		MQTT: MQTT{
			ReceiveMaximum:     65535,
			MaximumQoS:         2,
			RetainAvailable:    true,
			WildcardAvailable:  true,
			SharedSubAvailable: true,
		},
		Log:         Log{Level: "info"},
		Persistence: Persistence{Backend: "memory"},
	}
}

// Load reads YAML from path (if non-empty), layers VIBEMQ__-prefixed
// environment overrides on top (double underscore separates nested
// keys, e.g. VIBEMQ__SERVER__MQTT__URL), and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("VIBEMQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate runs struct-tag validation plus the cross-field rules the
// tags can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return ValidatePasswordExclusivity(cfg)
}

// ValidatePasswordExclusivity rejects any user configured with both a
// plaintext password and a password hash, or with neither, per the resolved
// open question in spec §9: ambiguous credential config fails closed at
// load time rather than silently preferring one over the other.
func ValidatePasswordExclusivity(cfg *Config) error {
	for _, u := range cfg.Auth.Users {
		if u.Password != "" && u.PasswordHash != "" {
			return fmt.Errorf("config: user %q has both password and password_hash set", u.Username)
		}
		if u.Password == "" && u.PasswordHash == "" {
			return fmt.Errorf("config: user %q has neither password nor password_hash set", u.Username)
		}
	}
	return nil
}
