package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lettermatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "239.0.0.1", cfg.Group().String())
	assert.Equal(t, "127.0.0.1", cfg.Advertise().String())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server_group: 239.9.9.9
match_port: 2338
heartbeat_interval: 250ms
leader_timeout: 1s
max_players: 4
words_dir: /srv/words
multicast_loopback: false
`)

	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "239.9.9.9", cfg.ServerGroup)
	assert.Equal(t, uint16(2338), cfg.MatchPort)
	assert.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.LeaderTimeout)
	assert.Equal(t, 4, cfg.MaxPlayers)
	assert.Equal(t, "/srv/words", cfg.WordsDir)
	assert.False(t, cfg.Loopback)
	// untouched keys keep their defaults
	assert.Equal(t, uint16(1337), cfg.GroupPort)
	assert.Equal(t, 3, cfg.Rounds)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := load(writeConfig(t, ""), noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := load(writeConfig(t, "max_player: 3\n"), noEnv)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "rounds: 5\nhttp_addr: :9000\n")

	cfg, err := load(path, envMap(map[string]string{
		"SLF_ROUNDS":             "2",
		"SLF_COLLECT_WINDOW":     "3s",
		"SLF_ADVERTISE_ADDR":     "10.1.2.3",
		"SLF_ELECTION_PORT":      "7000",
		"SLF_MULTICAST_LOOPBACK": "false",
		"SLF_HTTP_ADDR":          "",
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Rounds)
	assert.Equal(t, 3*time.Second, cfg.CollectWindow)
	assert.Equal(t, "10.1.2.3", cfg.Advertise().String())
	assert.Equal(t, uint16(7000), cfg.ElectionPort)
	assert.False(t, cfg.Loopback)
	assert.Equal(t, ":9000", cfg.HTTPAddr, "empty variables are ignored")
}

func TestEnvParseErrors(t *testing.T) {
	_, err := load("", envMap(map[string]string{
		"SLF_ROUNDS":             "three",
		"SLF_NACK_RETRY":         "soon",
		"SLF_GROUP_PORT":         "70000",
		"SLF_MULTICAST_LOOPBACK": "maybe",
	}))
	require.Error(t, err)
	for _, key := range []string{"SLF_ROUNDS", "SLF_NACK_RETRY", "SLF_GROUP_PORT", "SLF_MULTICAST_LOOPBACK"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"unicast group", func(c *Config) { c.ServerGroup = "10.0.0.1" }, "server_group"},
		{"garbage group", func(c *Config) { c.ServerGroup = "nope" }, "server_group"},
		{"ipv6 advertise", func(c *Config) { c.AdvertiseAddr = "::1" }, "advertise_addr"},
		{"zero port", func(c *Config) { c.MatchPort = 0 }, "match_port"},
		{"same ports", func(c *Config) { c.MatchPort = c.GroupPort }, "must differ"},
		{"negative window", func(c *Config) { c.CollectWindow = -time.Second }, "collect_window"},
		{"timeout below heartbeat", func(c *Config) { c.LeaderTimeout = c.HeartbeatInterval }, "leader_timeout"},
		{"no players", func(c *Config) { c.MaxPlayers = 0 }, "max_players"},
		{"no rounds", func(c *Config) { c.Rounds = 0 }, "rounds"},
		{"no acks", func(c *Config) { c.MaxAcks = 0 }, "max_acks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
