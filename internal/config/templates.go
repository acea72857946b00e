package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	sampleEndpoint    = "ws://localhost:8080/session"
	sampleToken       = "change-me"
	sampleAdminListen = "127.0.0.1:9400"
)

// Template renders a sample config in format ("toml" or "yaml") populated
// with the engine defaults.
func Template(format string) (string, error) {
	sample := sampleFile()
	var buf bytes.Buffer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(sample); err != nil {
			return "", err
		}
	case "yaml", "yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(sample); err != nil {
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
	return buf.String(), nil
}

// WriteTemplate writes a sample config to path, choosing the format from
// the extension.
func WriteTemplate(path string, overwrite bool) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func sampleFile() fileConfig {
	d := session.DefaultConfig()
	return fileConfig{
		Endpoint:          sampleEndpoint,
		Agent:             "bladectl",
		Token:             sampleToken,
		ConnectDelay:      d.ConnectDelay.String(),
		ConnectTimeout:    d.ConnectTimeout.String(),
		CloseTimeout:      d.CloseTimeout.String(),
		WriteTimeout:      d.WriteTimeout.String(),
		RequestTimeout:    d.RequestTimeout.String(),
		PulseInterval:     d.PulseInterval.String(),
		KeepaliveInterval: d.KeepaliveInterval.String(),
		DrainTimeout:      d.DrainTimeout.String(),
		MaxFrameBytes:     d.Limits.MaxFrameBytes,
		SecurityMode:      string(d.SecurityMode),
		Reconnect: reconnectFile{
			InitialDelay: d.Reconnect.InitialDelay.String(),
			Multiplier:   d.Reconnect.Multiplier,
			MaxDelay:     d.Reconnect.MaxDelay.String(),
			Jitter:       d.Reconnect.Jitter,
		},
		TLS:   tlsFile{InsecureSkipVerify: d.TLS.InsecureSkipVerify},
		Admin: adminFile{Listen: sampleAdminListen},
		Log:   logFile{Level: "info"},
	}
}
