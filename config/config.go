// Package config loads reqresd settings from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/loadbalance"
)

// Config holds everything the daemon needs to run either role.
type Config struct {
	AuthorityTimeout time.Duration // Default timeout of authority → peer requests
	PeerTimeout      time.Duration // Default timeout of peer → authority requests
	Codec            codec.CodecType
	Listen           string
	Advertise        string // Empty advertises the listener address
	Realm            string
	Heartbeat        time.Duration
	Version          string // Protocol version this process speaks
	AcceptVersions   string // Semver constraint on peer versions
	Balancer         string

	Registry RegistryConfig
	Limits   LimitsConfig
}

type RegistryConfig struct {
	Endpoints   []string // Empty selects the static registry
	TTLSeconds  int64
	DialTimeout time.Duration
	Weight      int
}

// LimitsConfig configures request middleware. Zero values disable a limit.
type LimitsConfig struct {
	Rate           float64
	Burst          int
	HandlerTimeout time.Duration
}

func Default() Config {
	return Config{
		AuthorityTimeout: 30 * time.Second,
		PeerTimeout:      30 * time.Second,
		Codec:            codec.CodecTypeBinary,
		Listen:           ":7300",
		Realm:            "default",
		Heartbeat:        30 * time.Second,
		Version:          "1.0.0",
		AcceptVersions:   "^1.0.0",
		Balancer:         "round_robin",
		Registry: RegistryConfig{
			TTLSeconds:  10,
			DialTimeout: 5 * time.Second,
			Weight:      1,
		},
	}
}

type fileConfig struct {
	AuthorityTimeoutMS int64        `toml:"authority_timeout_ms"`
	PeerTimeoutMS      int64        `toml:"peer_timeout_ms"`
	Codec              string       `toml:"codec"`
	Listen             string       `toml:"listen"`
	Advertise          string       `toml:"advertise"`
	Realm              string       `toml:"realm"`
	Heartbeat          string       `toml:"heartbeat"`
	Version            string       `toml:"version"`
	AcceptVersions     string       `toml:"accept_versions"`
	Balancer           string       `toml:"balancer"`
	Registry           fileRegistry `toml:"registry"`
	Limits             fileLimits   `toml:"limits"`
}

type fileRegistry struct {
	Endpoints   []string `toml:"endpoints"`
	TTLSeconds  int64    `toml:"ttl_seconds"`
	DialTimeout string   `toml:"dial_timeout"`
	Weight      int      `toml:"weight"`
}

type fileLimits struct {
	Rate           float64 `toml:"rate"`
	Burst          int     `toml:"burst"`
	HandlerTimeout string  `toml:"handler_timeout"`
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := apply(&cfg, &raw, meta); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	cfg := Default()
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := apply(&cfg, &raw, meta); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw *fileConfig, meta toml.MetaData) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config: unknown keys %v", undecoded)
	}
	if meta.IsDefined("authority_timeout_ms") {
		cfg.AuthorityTimeout = time.Duration(raw.AuthorityTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("peer_timeout_ms") {
		cfg.PeerTimeout = time.Duration(raw.PeerTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("codec") {
		ct, err := codec.ParseCodecType(raw.Codec)
		if err != nil {
			return err
		}
		cfg.Codec = ct
	}
	setString(meta, "listen", raw.Listen, &cfg.Listen)
	setString(meta, "advertise", raw.Advertise, &cfg.Advertise)
	setString(meta, "realm", raw.Realm, &cfg.Realm)
	setString(meta, "version", raw.Version, &cfg.Version)
	setString(meta, "accept_versions", raw.AcceptVersions, &cfg.AcceptVersions)
	setString(meta, "balancer", raw.Balancer, &cfg.Balancer)
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Heartbeat = d
	}

	if meta.IsDefined("registry", "endpoints") {
		cfg.Registry.Endpoints = normalize(raw.Registry.Endpoints)
	}
	if meta.IsDefined("registry", "ttl_seconds") {
		cfg.Registry.TTLSeconds = raw.Registry.TTLSeconds
	}
	if meta.IsDefined("registry", "dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Registry.DialTimeout))
		if err != nil {
			return fmt.Errorf("parse registry.dial_timeout: %w", err)
		}
		cfg.Registry.DialTimeout = d
	}
	if meta.IsDefined("registry", "weight") {
		cfg.Registry.Weight = raw.Registry.Weight
	}

	if meta.IsDefined("limits", "rate") {
		cfg.Limits.Rate = raw.Limits.Rate
	}
	if meta.IsDefined("limits", "burst") {
		cfg.Limits.Burst = raw.Limits.Burst
	}
	if meta.IsDefined("limits", "handler_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Limits.HandlerTimeout))
		if err != nil {
			return fmt.Errorf("parse limits.handler_timeout: %w", err)
		}
		cfg.Limits.HandlerTimeout = d
	}
	return nil
}

func setString(meta toml.MetaData, key, value string, dst *string) {
	if meta.IsDefined(key) {
		*dst = strings.TrimSpace(value)
	}
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports every problem in cfg at once.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.Realm == "" {
		errs = append(errs, errors.New("realm is empty"))
	}
	if c.AuthorityTimeout < 0 || c.PeerTimeout < 0 {
		errs = append(errs, errors.New("request timeouts must not be negative"))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, errors.New("heartbeat must not be negative"))
	}
	if c.Codec != codec.CodecTypeJSON && c.Codec != codec.CodecTypeBinary {
		errs = append(errs, fmt.Errorf("unknown codec %d", c.Codec))
	}
	if _, err := semver.NewVersion(c.Version); err != nil {
		errs = append(errs, fmt.Errorf("version %q: %w", c.Version, err))
	}
	if _, err := semver.NewConstraint(c.AcceptVersions); err != nil {
		errs = append(errs, fmt.Errorf("accept_versions %q: %w", c.AcceptVersions, err))
	}
	if _, err := loadbalance.New(c.Balancer); err != nil {
		errs = append(errs, err)
	}
	if c.Registry.TTLSeconds <= 0 {
		errs = append(errs, errors.New("registry.ttl_seconds must be positive"))
	}
	if c.Limits.Rate < 0 || c.Limits.Burst < 0 || c.Limits.HandlerTimeout < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
