// Package config loads bladectl client configuration from TOML or YAML
// files and overlays it onto the session engine defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/bladectl/internal/auth"
	"github.com/danmuck/bladectl/internal/protocol/frame"
	"github.com/danmuck/bladectl/internal/protocol/session"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the resolved client configuration.
type Config struct {
	Session     session.Config
	AdminListen string
	AdminCORS   []string
	LogLevel    string
}

// fileConfig maps config file keys. Durations are Go duration strings.
type fileConfig struct {
	Endpoint       string         `toml:"endpoint" yaml:"endpoint"`
	Agent          string         `toml:"agent" yaml:"agent"`
	Identity       string         `toml:"identity" yaml:"identity"`
	Network        bool           `toml:"network" yaml:"network"`
	Token          string         `toml:"token" yaml:"token"`
	Authentication map[string]any `toml:"authentication,omitempty" yaml:"authentication,omitempty"`

	ConnectDelay      string `toml:"connect_delay" yaml:"connect_delay"`
	ConnectTimeout    string `toml:"connect_timeout" yaml:"connect_timeout"`
	CloseTimeout      string `toml:"close_timeout" yaml:"close_timeout"`
	WriteTimeout      string `toml:"write_timeout" yaml:"write_timeout"`
	RequestTimeout    string `toml:"request_timeout" yaml:"request_timeout"`
	PulseInterval     string `toml:"pulse_interval" yaml:"pulse_interval"`
	KeepaliveInterval string `toml:"keepalive_interval" yaml:"keepalive_interval"`
	DrainTimeout      string `toml:"drain_timeout" yaml:"drain_timeout"`
	MaxFrameBytes     int    `toml:"max_frame_bytes" yaml:"max_frame_bytes"`
	SecurityMode      string `toml:"security_mode" yaml:"security_mode"`

	Reconnect reconnectFile `toml:"reconnect" yaml:"reconnect"`
	TLS       tlsFile       `toml:"tls" yaml:"tls"`
	Admin     adminFile     `toml:"admin" yaml:"admin"`
	Log       logFile       `toml:"log" yaml:"log"`
}

type reconnectFile struct {
	InitialDelay string  `toml:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier" yaml:"multiplier"`
	MaxDelay     string  `toml:"max_delay" yaml:"max_delay"`
	Jitter       bool    `toml:"jitter" yaml:"jitter"`
}

type tlsFile struct {
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type adminFile struct {
	Listen      string   `toml:"listen" yaml:"listen"`
	CORSOrigins []string `toml:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

type logFile struct {
	Level string `toml:"level" yaml:"level"`
}

// Load reads path, picking the decoder from its extension (.toml, .yaml,
// .yml). Keys absent from the file keep the engine defaults.
func Load(path string) (Config, error) {
	var (
		raw     fileConfig
		defined func(key string) bool
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		defined, err = decodeTOML(path, &raw)
	case ".yaml", ".yml":
		defined, err = decodeYAML(path, &raw)
	default:
		return Config{}, fmt.Errorf("load config %s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg, err := overlay(raw, defined)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeTOML(path string, out *fileConfig) (func(string) bool, error) {
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return nil, err
	}
	return func(key string) bool {
		return meta.IsDefined(strings.Split(key, ".")...)
	}, nil
}

func decodeYAML(path string, out *fileConfig) (func(string) bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	keys := map[string]bool{}
	if len(doc.Content) > 0 {
		if err := doc.Decode(out); err != nil {
			return nil, err
		}
		collectKeys(doc.Content[0], "", keys)
	}
	return func(key string) bool { return keys[key] }, nil
}

// collectKeys records the dotted path of every mapping key under n.
func collectKeys(n *yaml.Node, prefix string, keys map[string]bool) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if prefix != "" {
			key = prefix + "." + key
		}
		keys[key] = true
		collectKeys(n.Content[i+1], key, keys)
	}
}

func overlay(raw fileConfig, defined func(string) bool) (Config, error) {
	cfg := Config{Session: session.DefaultConfig()}
	s := &cfg.Session

	if defined("endpoint") {
		s.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if defined("agent") {
		s.Agent = strings.TrimSpace(raw.Agent)
	}
	if defined("identity") {
		s.Identity = strings.TrimSpace(raw.Identity)
	}
	if defined("network") {
		s.Network = raw.Network
	}

	switch {
	case defined("authentication") && defined("token"):
		return Config{}, errors.New("token and authentication are mutually exclusive")
	case defined("authentication"):
		data, err := json.Marshal(raw.Authentication)
		if err != nil {
			return Config{}, fmt.Errorf("authentication: %w", err)
		}
		s.Authentication = data
	case defined("token"):
		s.Authentication = auth.NewTokenCredential(strings.TrimSpace(raw.Token))
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"connect_delay", raw.ConnectDelay, &s.ConnectDelay},
		{"connect_timeout", raw.ConnectTimeout, &s.ConnectTimeout},
		{"close_timeout", raw.CloseTimeout, &s.CloseTimeout},
		{"write_timeout", raw.WriteTimeout, &s.WriteTimeout},
		{"request_timeout", raw.RequestTimeout, &s.RequestTimeout},
		{"pulse_interval", raw.PulseInterval, &s.PulseInterval},
		{"keepalive_interval", raw.KeepaliveInterval, &s.KeepaliveInterval},
		{"drain_timeout", raw.DrainTimeout, &s.DrainTimeout},
		{"reconnect.initial_delay", raw.Reconnect.InitialDelay, &s.Reconnect.InitialDelay},
		{"reconnect.max_delay", raw.Reconnect.MaxDelay, &s.Reconnect.MaxDelay},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := parseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	// connect_delay alone keeps a fixed reconnect delay
	if defined("connect_delay") && !defined("reconnect") {
		s.Reconnect = session.BackoffConfig{InitialDelay: s.ConnectDelay, Multiplier: 1, MaxDelay: s.ConnectDelay}
	}
	if defined("reconnect.multiplier") {
		s.Reconnect.Multiplier = raw.Reconnect.Multiplier
	}
	if defined("reconnect.jitter") {
		s.Reconnect.Jitter = raw.Reconnect.Jitter
	}

	if defined("max_frame_bytes") {
		if raw.MaxFrameBytes <= 0 {
			return Config{}, fmt.Errorf("max_frame_bytes must be positive, got %d", raw.MaxFrameBytes)
		}
		s.Limits = frame.Limits{MaxFrameBytes: raw.MaxFrameBytes}
	}
	if defined("security_mode") {
		s.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if defined("tls.ca_file") {
		s.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if defined("tls.cert_file") {
		s.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if defined("tls.key_file") {
		s.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if defined("tls.server_name") {
		s.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if defined("tls.insecure_skip_verify") {
		s.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	if defined("admin.listen") {
		cfg.AdminListen = strings.TrimSpace(raw.Admin.Listen)
	}
	if defined("admin.cors_origins") {
		cfg.AdminCORS = raw.Admin.CORSOrigins
	}
	if defined("log.level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}

	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}
