package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Stream StreamConfig `yaml:"stream"`
	Mock   MockConfig   `yaml:"mock"`
	SSH    SSHConfig    `yaml:"ssh"`
	Local  LocalConfig  `yaml:"local"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AuthToken, when set, is required as a bearer token or ?token= query
	// parameter on every API and WebSocket request.
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
	// HistoryBatches is how many recent batches a late viewer is replayed.
	HistoryBatches int `yaml:"history_batches"`
}

// StreamConfig tunes the per-session pipeline.
type StreamConfig struct {
	BatchWindow        time.Duration `yaml:"batch_window"`
	ReadSize           int           `yaml:"read_size"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	SinkQueue          int           `yaml:"sink_queue"`
	SinkOverflowTokens int           `yaml:"sink_overflow_tokens"`
	MaxSequence        int           `yaml:"max_sequence"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
}

type MockConfig struct {
	Latency  time.Duration `yaml:"latency"`
	Jitter   time.Duration `yaml:"jitter"`
	Seed     int64         `yaml:"seed"`
	Fragment bool          `yaml:"fragment"`
	User     string        `yaml:"user"`
	Host     string        `yaml:"host"`
	Home     string        `yaml:"home"`
}

type SSHConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	KeyFile     string        `yaml:"key_file"`
	KnownHosts  string        `yaml:"known_hosts"`
	Term        string        `yaml:"term"`
	Cols        int           `yaml:"cols"`
	Rows        int           `yaml:"rows"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type LocalConfig struct {
	Shell string   `yaml:"shell"`
	Args  []string `yaml:"args"`
	Dir   string   `yaml:"dir"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 64,
			HistoryBatches: 256,
		},
		Stream: StreamConfig{
			BatchWindow:        50 * time.Millisecond,
			ReadSize:           4096,
			ReadTimeout:        100 * time.Millisecond,
			SinkQueue:          64,
			SinkOverflowTokens: 64 * 1024,
			MaxSequence:        64,
			DrainTimeout:       2 * time.Second,
		},
		Mock: MockConfig{
			Latency: 10 * time.Millisecond,
			Jitter:  20 * time.Millisecond,
			Seed:    1,
			User:    "demo_user",
			Host:    "demo-server",
			Home:    "/home/demo",
		},
		SSH: SSHConfig{
			Port:        22,
			Term:        "xterm-256color",
			Cols:        80,
			Rows:        24,
			DialTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Stream.BatchWindow <= 0 {
		errs = append(errs, fmt.Errorf("stream.batch_window must be positive, got %v", c.Stream.BatchWindow))
	}
	if c.Stream.ReadSize <= 0 {
		errs = append(errs, fmt.Errorf("stream.read_size must be positive, got %d", c.Stream.ReadSize))
	}
	if c.Stream.SinkQueue <= 0 || c.Stream.SinkOverflowTokens <= 0 {
		errs = append(errs, errors.New("stream.sink_queue and stream.sink_overflow_tokens must be positive"))
	}
	if c.Mock.Latency < 0 || c.Mock.Jitter < 0 {
		errs = append(errs, errors.New("mock.latency and mock.jitter must not be negative"))
	}
	return errors.Join(errs...)
}

// GenerateToken returns a random 128-bit hex token for server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Diff lists the yaml keys whose values differ between a and b, as
// "section.key" paths.
func Diff(a, b *Config) []string {
	var changes []string
	diffStruct("", reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem(), &changes)
	return changes
}

func diffStruct(prefix string, a, b reflect.Value, changes *[]string) {
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("yaml")
		if prefix != "" {
			key = prefix + "." + key
		}
		fa, fb := a.Field(i), b.Field(i)
		if fa.Kind() == reflect.Struct && fa.Type() != reflect.TypeOf(time.Time{}) {
			diffStruct(key, fa, fb, changes)
			continue
		}
		if !reflect.DeepEqual(fa.Interface(), fb.Interface()) {
			*changes = append(*changes, key)
		}
	}
}
