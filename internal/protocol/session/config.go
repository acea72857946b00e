package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/bladectl/internal/protocol/frame"
)

var (
	ErrEndpointRequired = errors.New("session: endpoint required")
	ErrInvalidEndpoint  = errors.New("session: invalid endpoint")
)

// SecurityMode selects how strictly the transport verifies the peer.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// BackoffConfig defines the delay between reconnect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// TLSConfig configures wss:// endpoints.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Mutual reports whether a client certificate is configured.
func (t TLSConfig) Mutual() bool {
	return strings.TrimSpace(t.CertFile) != ""
}

// Config is supplied at construction and never changes afterwards.
type Config struct {
	Endpoint       string
	Authentication json.RawMessage
	Agent          string
	Identity       string
	Network        bool

	ConnectDelay      time.Duration
	ConnectTimeout    time.Duration
	CloseTimeout      time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration
	PulseInterval     time.Duration
	OfflinePoll       time.Duration
	KeepaliveInterval time.Duration
	DrainTimeout      time.Duration

	Reconnect BackoffConfig
	Limits    frame.Limits

	SecurityMode SecurityMode
	TLS          TLSConfig
}

// DefaultConfig returns the engine defaults: a fixed 5s reconnect delay,
// 5s connect/close/request timeouts, a 1s pulse and 1 MiB frames.
func DefaultConfig() Config {
	return Config{
		ConnectDelay:      5 * time.Second,
		ConnectTimeout:    5 * time.Second,
		CloseTimeout:      5 * time.Second,
		WriteTimeout:      5 * time.Second,
		RequestTimeout:    5 * time.Second,
		PulseInterval:     time.Second,
		OfflinePoll:       100 * time.Millisecond,
		KeepaliveInterval: 5 * time.Second,
		DrainTimeout:      10 * time.Second,
		Reconnect: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   1.0,
			MaxDelay:     5 * time.Second,
			Jitter:       false,
		},
		Limits:       frame.DefaultLimits(),
		SecurityMode: SecurityModeDevelopment,
		TLS: TLSConfig{
			InsecureSkipVerify: true,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig. A zero Reconnect policy
// becomes a fixed delay of ConnectDelay.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	setDuration(&c.ConnectDelay, def.ConnectDelay)
	setDuration(&c.ConnectTimeout, def.ConnectTimeout)
	setDuration(&c.CloseTimeout, def.CloseTimeout)
	setDuration(&c.WriteTimeout, def.WriteTimeout)
	setDuration(&c.RequestTimeout, def.RequestTimeout)
	setDuration(&c.PulseInterval, def.PulseInterval)
	setDuration(&c.OfflinePoll, def.OfflinePoll)
	setDuration(&c.KeepaliveInterval, def.KeepaliveInterval)
	setDuration(&c.DrainTimeout, def.DrainTimeout)
	if c.Reconnect == (BackoffConfig{}) {
		c.Reconnect = BackoffConfig{
			InitialDelay: c.ConnectDelay,
			Multiplier:   1.0,
			MaxDelay:     c.ConnectDelay,
		}
	}
	if c.Limits.MaxFrameBytes <= 0 {
		c.Limits = def.Limits
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

func (c Config) Validate() error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return ErrEndpointRequired
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if len(c.Authentication) > 0 && !json.Valid(c.Authentication) {
		return fmt.Errorf("session: authentication payload is not valid json")
	}
	return c.ValidateClientTransport()
}

func (c Config) secure() bool {
	return strings.HasPrefix(strings.TrimSpace(c.Endpoint), "wss://")
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}
