package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr         string        `yaml:"addr"`         // ":8080"
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // "15s"
	WriteTimeout time.Duration `yaml:"writeTimeout"` // "30s"
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // "60s"
}

type GRPC struct {
	Addr string `yaml:"addr"` // empty disables the admin listener
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // meeting-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN             string        `yaml:"dsn"` // empty: in-memory reservations
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
	ApplicationName string        `yaml:"applicationName"`
}

type JWT struct {
	Algorithm     string        `yaml:"algorithm"`     // RS256|HS256
	PublicKeyPath string        `yaml:"publicKeyPath"` // RS256
	Secret        string        `yaml:"secret"`        // HS256
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

type Security struct {
	JWT JWT `yaml:"jwt"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Meeting struct {
	PublicURL      string        `yaml:"publicURL"`      // base of meetingUrl
	ReservationTTL time.Duration `yaml:"reservationTTL"` // unclaimed ids live this long
	PurgeEvery     time.Duration `yaml:"purgeEvery"`
}

type Signaling struct {
	Path             string        `yaml:"path"`
	InboxSize        int           `yaml:"inboxSize"`
	SendBuffer       int           `yaml:"sendBuffer"`
	PingEvery        time.Duration `yaml:"pingEvery"`
	WriteWait        time.Duration `yaml:"writeWait"`
	MaxMessageBytes  int64         `yaml:"maxMessageBytes"`
	HostPolicy       string        `yaml:"hostPolicy"` // flag|unique
	RequireAdmission bool          `yaml:"requireAdmission"`
	PendingTTL       time.Duration `yaml:"pendingTTL"`
	SweepEvery       time.Duration `yaml:"sweepEvery"`
	ChatMaxLength    int           `yaml:"chatMaxLength"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Postgres  Postgres  `yaml:"postgres"`
	Security  Security  `yaml:"security"`
	CORS      CORS      `yaml:"cors"`
	Meeting   Meeting   `yaml:"meeting"`
	Signaling Signaling `yaml:"signaling"`
}

const defaultPath = "./config/config.yaml"

// ResolvePath picks the flag value, then CONFIG_PATH, then the default location.
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "meeting-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if err := c.Security.JWT.validate(); err != nil {
		return err
	}

	if c.Meeting.PublicURL == "" {
		c.Meeting.PublicURL = "http://localhost:5173"
	}
	c.Meeting.PublicURL = strings.TrimRight(c.Meeting.PublicURL, "/")
	if c.Meeting.ReservationTTL == 0 {
		c.Meeting.ReservationTTL = 24 * time.Hour
	}
	if c.Meeting.PurgeEvery == 0 {
		c.Meeting.PurgeEvery = 5 * time.Minute
	}
	if c.Meeting.ReservationTTL < 0 || c.Meeting.PurgeEvery < 0 {
		return errors.New("meeting: reservationTTL and purgeEvery must be positive")
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{c.Meeting.PublicURL}
	}

	return c.Signaling.validate()
}

func (j *JWT) validate() error {
	j.Algorithm = strings.ToUpper(strings.TrimSpace(j.Algorithm))
	if j.Algorithm == "" {
		switch {
		case j.PublicKeyPath != "":
			j.Algorithm = "RS256"
		case j.Secret != "":
			j.Algorithm = "HS256"
		default:
			return errors.New("security.jwt: publicKeyPath or secret is required")
		}
	}
	switch j.Algorithm {
	case "RS256":
		if j.PublicKeyPath == "" {
			return errors.New("security.jwt.publicKeyPath is required for RS256")
		}
	case "HS256":
		if j.Secret == "" {
			return errors.New("security.jwt.secret is required for HS256")
		}
	default:
		return fmt.Errorf("security.jwt.algorithm %q is not supported", j.Algorithm)
	}
	if j.ClockSkew == 0 {
		j.ClockSkew = 30 * time.Second
	}
	return nil
}

func (s *Signaling) validate() error {
	if s.Path == "" {
		s.Path = "/ws"
	}
	if s.InboxSize <= 0 {
		s.InboxSize = 1024
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 64
	}
	if s.PingEvery == 0 {
		s.PingEvery = 15 * time.Second
	}
	if s.WriteWait == 0 {
		s.WriteWait = 5 * time.Second
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = 1 << 20
	}
	if s.HostPolicy == "" {
		s.HostPolicy = "flag"
	}
	if s.HostPolicy != "flag" && s.HostPolicy != "unique" {
		return fmt.Errorf("signaling.hostPolicy %q: want flag or unique", s.HostPolicy)
	}
	if s.PendingTTL == 0 {
		s.PendingTTL = 2 * time.Minute
	}
	if s.SweepEvery == 0 {
		s.SweepEvery = 10 * time.Second
	}
	if s.ChatMaxLength <= 0 {
		s.ChatMaxLength = 4000
	}
	for name, d := range map[string]time.Duration{
		"pingEvery":  s.PingEvery,
		"writeWait":  s.WriteWait,
		"pendingTTL": s.PendingTTL,
		"sweepEvery": s.SweepEvery,
	} {
		if d < 0 {
			return fmt.Errorf("signaling.%s must be positive, got %s", name, d)
		}
	}
	return nil
}
