// Package config loads server and player settings.
//
// Settings start from Default, are overridden by an optional YAML file, then
// by SLF_* environment variables, and are finally validated:
//
//	server_group: 239.0.0.1
//	heartbeat_interval: 500ms
//	max_players: 2
//
// Durations use Go syntax ("250ms", "2s").
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a server or player process.
type Config struct {
	ServerGroup   string `yaml:"server_group"`
	GroupPort     uint16 `yaml:"group_port"`
	MatchPort     uint16 `yaml:"match_port"`
	ElectionPort  uint16 `yaml:"election_port"`
	HTTPAddr      string `yaml:"http_addr"`
	AdvertiseAddr string `yaml:"advertise_addr"`
	Interface     string `yaml:"interface"`
	Loopback      bool   `yaml:"multicast_loopback"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LeaderTimeout     time.Duration `yaml:"leader_timeout"`
	ElectionWait      time.Duration `yaml:"election_wait"`
	StatusWindow      time.Duration `yaml:"status_window"`

	MaxPlayers    int           `yaml:"max_players"`
	Rounds        int           `yaml:"rounds"`
	CollectWindow time.Duration `yaml:"collect_window"`
	ResultPause   time.Duration `yaml:"result_pause"`
	WordsDir      string        `yaml:"words_dir"`

	NackRetry time.Duration `yaml:"nack_retry"`
	AckTTL    time.Duration `yaml:"ack_ttl"`
	MaxAcks   int           `yaml:"max_acks"`

	AssignTimeout time.Duration `yaml:"assign_timeout"`
	IdentityFile  string        `yaml:"identity_file"`
}

// Default returns the settings used when neither file nor environment set a value.
func Default() Config {
	return Config{
		ServerGroup:       "239.0.0.1",
		GroupPort:         1337,
		MatchPort:         1338,
		ElectionPort:      1337,
		HTTPAddr:          ":8080",
		AdvertiseAddr:     "127.0.0.1",
		Loopback:          true,
		HeartbeatInterval: 500 * time.Millisecond,
		LeaderTimeout:     2 * time.Second,
		ElectionWait:      time.Second,
		StatusWindow:      2 * time.Second,
		MaxPlayers:        2,
		Rounds:            3,
		CollectWindow:     2 * time.Second,
		ResultPause:       5 * time.Second,
		NackRetry:         250 * time.Millisecond,
		AckTTL:            30 * time.Second,
		MaxAcks:           64,
		AssignTimeout:     3 * time.Second,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the process environment.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	port := func(key string, dst *uint16) {
		if v, ok := get(key); ok {
			p, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint16(p)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SLF_SERVER_GROUP", &c.ServerGroup)
	port("SLF_GROUP_PORT", &c.GroupPort)
	port("SLF_MATCH_PORT", &c.MatchPort)
	port("SLF_ELECTION_PORT", &c.ElectionPort)
	str("SLF_HTTP_ADDR", &c.HTTPAddr)
	str("SLF_ADVERTISE_ADDR", &c.AdvertiseAddr)
	str("SLF_INTERFACE", &c.Interface)
	boolean("SLF_MULTICAST_LOOPBACK", &c.Loopback)
	dur("SLF_HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	dur("SLF_LEADER_TIMEOUT", &c.LeaderTimeout)
	dur("SLF_ELECTION_WAIT", &c.ElectionWait)
	dur("SLF_STATUS_WINDOW", &c.StatusWindow)
	integer("SLF_MAX_PLAYERS", &c.MaxPlayers)
	integer("SLF_ROUNDS", &c.Rounds)
	dur("SLF_COLLECT_WINDOW", &c.CollectWindow)
	dur("SLF_RESULT_PAUSE", &c.ResultPause)
	str("SLF_WORDS_DIR", &c.WordsDir)
	dur("SLF_NACK_RETRY", &c.NackRetry)
	dur("SLF_ACK_TTL", &c.AckTTL)
	integer("SLF_MAX_ACKS", &c.MaxAcks)
	dur("SLF_ASSIGN_TIMEOUT", &c.AssignTimeout)
	str("SLF_IDENTITY_FILE", &c.IdentityFile)

	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if g, err := netip.ParseAddr(c.ServerGroup); err != nil || !g.Is4() || !g.IsMulticast() {
		errs = append(errs, fmt.Errorf("server_group %q is not an IPv4 multicast address", c.ServerGroup))
	}
	if a, err := netip.ParseAddr(c.AdvertiseAddr); err != nil || !a.Is4() {
		errs = append(errs, fmt.Errorf("advertise_addr %q is not an IPv4 address", c.AdvertiseAddr))
	}
	for name, p := range map[string]uint16{"group_port": c.GroupPort, "match_port": c.MatchPort, "election_port": c.ElectionPort} {
		if p == 0 {
			errs = append(errs, fmt.Errorf("%s must be set", name))
		}
	}
	if c.GroupPort == c.MatchPort {
		errs = append(errs, errors.New("group_port and match_port must differ"))
	}
	for name, d := range map[string]time.Duration{
		"heartbeat_interval": c.HeartbeatInterval,
		"leader_timeout":     c.LeaderTimeout,
		"election_wait":      c.ElectionWait,
		"status_window":      c.StatusWindow,
		"collect_window":     c.CollectWindow,
		"result_pause":       c.ResultPause,
		"nack_retry":         c.NackRetry,
		"ack_ttl":            c.AckTTL,
		"assign_timeout":     c.AssignTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.LeaderTimeout <= c.HeartbeatInterval {
		errs = append(errs, errors.New("leader_timeout must exceed heartbeat_interval"))
	}
	if c.MaxPlayers < 1 {
		errs = append(errs, errors.New("max_players must be at least 1"))
	}
	if c.Rounds < 1 {
		errs = append(errs, errors.New("rounds must be at least 1"))
	}
	if c.MaxAcks < 1 {
		errs = append(errs, errors.New("max_acks must be at least 1"))
	}
	return errors.Join(errs...)
}

// Group returns the server group address. Only valid after Validate.
func (c Config) Group() netip.Addr {
	a, _ := netip.ParseAddr(c.ServerGroup)
	return a
}

// Advertise returns the address other servers reach this one at.
func (c Config) Advertise() netip.Addr {
	a, _ := netip.ParseAddr(c.AdvertiseAddr)
	return a
}
