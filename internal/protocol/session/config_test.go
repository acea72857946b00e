package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/bladectl/internal/protocol/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaultsFillsFixedReconnectDelay(t *testing.T) {
	cfg := Config{Endpoint: "ws://peer:9000/", ConnectDelay: 2 * time.Second}.WithDefaults()

	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.CloseTimeout)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Second, cfg.PulseInterval)
	assert.Equal(t, 10*time.Second, cfg.DrainTimeout)
	assert.Equal(t, frame.DefaultLimits(), cfg.Limits)
	assert.Equal(t, SecurityModeDevelopment, cfg.SecurityMode)
	assert.Equal(t, BackoffConfig{InitialDelay: 2 * time.Second, Multiplier: 1, MaxDelay: 2 * time.Second}, cfg.Reconnect)
	require.NoError(t, cfg.Validate())
}

func TestFixedBackoffNeverGrows(t *testing.T) {
	cfg := DefaultConfig().Reconnect
	for attempt := 1; attempt <= 10; attempt++ {
		assert.Equal(t, 5*time.Second, NextBackoffDelay(cfg, attempt, nil))
	}
}

func TestExponentialBackoffIsCapped(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	assert.Equal(t, 400*time.Millisecond, NextBackoffDelay(cfg, 3, nil))
	assert.Equal(t, time.Second, NextBackoffDelay(cfg, 10, nil))

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt < 6; attempt++ {
		d := NextBackoffDelay(cfg, attempt, rng)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestValidateRejectsBadEndpoints(t *testing.T) {
	cases := map[string]error{
		"":                    ErrEndpointRequired,
		"http://peer:9000":    ErrInvalidEndpoint,
		"ws://":               ErrInvalidEndpoint,
		"wss://peer:9000/app": nil,
	}
	for endpoint, want := range cases {
		err := Config{Endpoint: endpoint}.WithDefaults().Validate()
		if want == nil {
			assert.NoError(t, err, endpoint)
			continue
		}
		assert.ErrorIs(t, err, want, endpoint)
	}

	bad := Config{Endpoint: "ws://peer", Authentication: []byte(`{"token":`)}.WithDefaults()
	assert.Error(t, bad.Validate())
}

func TestValidateClientTransportModes(t *testing.T) {
	base := DefaultConfig()
	base.Endpoint = "wss://peer:9000"

	prod := base
	prod.SecurityMode = SecurityModeProduction
	assert.ErrorIs(t, prod.ValidateClientTransport(), ErrTLSInsecureSkipNotAllow)

	prod.TLS.InsecureSkipVerify = false
	assert.ErrorIs(t, prod.ValidateClientTransport(), ErrTLSCAFileRequired)

	prod.TLS.CAFile = "/etc/bladectl/ca.pem"
	assert.NoError(t, prod.ValidateClientTransport())

	plain := prod
	plain.Endpoint = "ws://peer:9000"
	assert.ErrorIs(t, plain.ValidateClientTransport(), ErrTLSRequired)

	halfCert := base
	halfCert.TLS.CertFile = "client.crt"
	assert.ErrorIs(t, halfCert.ValidateClientTransport(), ErrTLSKeyFileRequired)

	halfKey := base
	halfKey.TLS.KeyFile = "client.key"
	assert.ErrorIs(t, halfKey.ValidateClientTransport(), ErrTLSCertFileRequired)

	weird := base
	weird.SecurityMode = "paranoid"
	assert.ErrorIs(t, weird.ValidateClientTransport(), ErrInvalidSecurityMode)
}
