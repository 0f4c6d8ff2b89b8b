// Package doorman exposes the network-behavior access-control core to a
// reverse-proxy host.
package doorman

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the doorman configuration file, a YAML mapping. Unknown keys are
// rejected. Zero values for the score offsets are meaningful, so defaults are
// applied by DefaultConfig before decoding, not after.
type Config struct {
	// Diagnostic verbosity: 0 logs at info level, 1 adds debug detail
	// (per-operation verdicts and sensor threshold updates), 2 or more selects
	// the trace level.
	Verbose int `yaml:"verbose"`

	// First-touch t1 score offsets from the t1 threshold, for peacetime and
	// attack mode respectively.
	T1Epsilon       float64 `yaml:"t1_epsilon"`
	T1AttackEpsilon float64 `yaml:"t1_attack_epsilon"`

	// First-touch t2 score offsets. T2Epsilon is reserved for peacetime
	// tuning; peacetime first touches currently pin t2 to zero.
	T2Epsilon       float64 `yaml:"t2_epsilon"`
	T2AttackEpsilon float64 `yaml:"t2_attack_epsilon"`

	// Persisted on new client records.
	T2InitialAccessMultiplier float64 `yaml:"t2_initial_access_multiplier"`

	// Pub/sub channels for the attack-mode flag (0/1) and the two score
	// thresholds. A listener is only started for non-empty names.
	UnderAttackChannel string `yaml:"under_attack_channel"`
	T1ThresholdChannel string `yaml:"t1_threshold_channel"`
	T2ThresholdChannel string `yaml:"t2_threshold_channel"`

	// Address of the pub/sub bus.
	RedisAddr string `yaml:"redis_addr"`

	// Backend credentials for the postgres storage.
	DBName   string `yaml:"dbname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// The storage to use for client records:
	//  - memory
	//  - sqlite3:/path/to/doorman.db
	//  - postgres (uses dbname/user/password)
	Storage string `yaml:"storage"`

	// Comma-separated addr[/prefix] lists. Whitelisted clients bypass scoring
	// entirely; proxy-list addresses may forward the real client identity.
	Whitelist string `yaml:"whitelist"`
	Proxylist string `yaml:"proxylist"`

	// The listen address for the admission HTTP API.
	ListenAddr string `yaml:"listen_addr"`

	// The header a trusted proxy uses to forward the real client address.
	RealIPHeader string `yaml:"real_ip_header"`
}

// DefaultConfig returns the configuration defaults applied before a config
// file is read.
func DefaultConfig() Config {
	return Config{
		T1Epsilon:                 9.9,
		T1AttackEpsilon:           -0.5,
		T2Epsilon:                 4.9,
		T2AttackEpsilon:           4.9,
		T2InitialAccessMultiplier: 0.1,
		RedisAddr:                 "localhost:6379",
		Storage:                   "postgres",
		ListenAddr:                ":8732",
		RealIPHeader:              "X-Real-IP",
	}
}

// LoadConfig reads and decodes the YAML config at path over the defaults. A
// VERBOSE environment variable forces verbose=1 unless the file says
// otherwise.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if _, ok := os.LookupEnv("VERBOSE"); ok {
		c.Verbose = 1
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}
