package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.AuthorityTimeout)
	assert.Equal(t, codec.CodecTypeBinary, cfg.Codec)
	assert.Equal(t, ":7300", cfg.Listen)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reqres.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
authority_timeout_ms = 1500
peer_timeout_ms = 2500
codec = "json"
listen = " 127.0.0.1:9000 "
realm = "eu"
heartbeat = "5s"
accept_versions = ">=1.2, <2"
balancer = "consistent_hash"

[registry]
endpoints = ["10.0.0.1:2379", " ", "10.0.0.2:2379"]
ttl_seconds = 20
dial_timeout = "2s"

[limits]
rate = 50.5
burst = 10
handler_timeout = "250ms"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.AuthorityTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.PeerTimeout)
	assert.Equal(t, codec.CodecTypeJSON, cfg.Codec)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "eu", cfg.Realm)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat)
	assert.Equal(t, ">=1.2, <2", cfg.AcceptVersions)
	assert.Equal(t, "1.0.0", cfg.Version)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, int64(20), cfg.Registry.TTLSeconds)
	assert.Equal(t, 2*time.Second, cfg.Registry.DialTimeout)
	assert.Equal(t, 1, cfg.Registry.Weight)
	assert.Equal(t, LimitsConfig{Rate: 50.5, Burst: 10, HandlerTimeout: 250 * time.Millisecond}, cfg.Limits)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "load config")
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"empty listen":     `listen = ""`,
		"negative timeout": `peer_timeout_ms = -1`,
		"unknown codec":    `codec = "xml"`,
		"bad constraint":   `accept_versions = ">>1"`,
		"bad version":      `version = "one"`,
		"bad heartbeat":    `heartbeat = "soon"`,
		"bad balancer":     `balancer = "fastest"`,
		"unknown key":      `listne = ":1"`,
		"bad ttl":          "[registry]\nttl_seconds = 0",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(doc)
			assert.Error(t, err)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.Realm = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "listen address is empty")
	assert.ErrorContains(t, err, "realm is empty")
}
