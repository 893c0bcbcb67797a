// Copyright © 2025 CloudLens Authors, All Rights reserved

// Package config loads the gateway configuration from a YAML (or JSON) file
// and applies environment overrides. The file declares the server surface,
// logging, the optional static dashboard directory, and the route rules that
// forward API traffic to the scan upstream.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/cloudlens/devgate/pkg/route"
)

const (
	EnvConfigPath  = "DEVGATE_CONFIG"
	envListenAddr  = "DEVGATE_LISTEN_ADDR"
	envLogLevel    = "DEVGATE_LOG_LEVEL"
	envStaticDir   = "DEVGATE_STATIC_DIR"
	envInsecureAll = "DEVGATE_INSECURE_UPSTREAM"

	DefaultConfigPath = "devgate.yaml"

	defaultListenAddr      = "127.0.0.1:5173"
	defaultLogLevel        = "info"
	defaultRequestTimeout  = 15 * time.Second
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// File mirrors the on-disk configuration document. Durations are strings in
// time.ParseDuration syntax ("15s", "2m").
type File struct {
	Server struct {
		ListenAddr      string `yaml:"listen_addr" json:"listen_addr"`
		ReadTimeout     string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout" json:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout" json:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
		RequestTimeout  string `yaml:"request_timeout" json:"request_timeout"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"log" json:"log"`
	Static struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"static" json:"static"`
	Routes []RouteFile `yaml:"routes" json:"routes"`
}

// RouteFile is a single route rule as written in the config file.
// ChangeOrigin and Secure default to true when omitted.
type RouteFile struct {
	Prefix       string `yaml:"prefix" json:"prefix"`
	Target       string `yaml:"target" json:"target"`
	ChangeOrigin *bool  `yaml:"change_origin" json:"change_origin"`
	Secure       *bool  `yaml:"secure" json:"secure"`
}

// Config is the resolved runtime configuration.
type Config struct {
	ListenAddr              string
	LogLevel                string
	StaticDir               string
	Rules                   []*route.Rule
	RequestTimeout          time.Duration
	ServerReadTimeout       time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// Path returns the configuration file path, honouring the DEVGATE_CONFIG
// override when the flag value is empty.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getString(EnvConfigPath, DefaultConfigPath)
}

// Load reads, parses, and validates the configuration file at path, then
// applies environment overrides.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var file File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse YAML config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .json)", ext)
	}

	return Resolve(file)
}

// Resolve validates a parsed file, fills defaults, and applies environment
// overrides to produce the runtime configuration.
func Resolve(file File) (Config, error) {
	if len(file.Routes) == 0 {
		return Config{}, errors.New("at least one route rule is required")
	}

	insecureAll := getBool(envInsecureAll, false)

	seen := make(map[string]struct{}, len(file.Routes))
	rules := make([]*route.Rule, 0, len(file.Routes))
	for i, rf := range file.Routes {
		if _, dup := seen[rf.Prefix]; dup {
			return Config{}, fmt.Errorf("route %d: duplicate prefix %q", i, rf.Prefix)
		}
		seen[rf.Prefix] = struct{}{}

		secure := boolOrDefault(rf.Secure, true)
		if secure && insecureAll {
			// The downgrade is deliberate but never silent.
			log.Warn().
				Str("prefix", rf.Prefix).
				Str("target", rf.Target).
				Msg("TLS verification disabled by " + envInsecureAll)
			secure = false
		}
		rule, err := route.New(rf.Prefix, rf.Target, boolOrDefault(rf.ChangeOrigin, true), secure)
		if err != nil {
			return Config{}, fmt.Errorf("route %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	cfg := Config{
		ListenAddr: getString(envListenAddr, stringOrDefault(file.Server.ListenAddr, defaultListenAddr)),
		LogLevel:   strings.ToLower(getString(envLogLevel, stringOrDefault(file.Log.Level, defaultLogLevel))),
		StaticDir:  getString(envStaticDir, file.Static.Dir),
		Rules:      rules,
	}

	var err error
	if cfg.RequestTimeout, err = durationOrDefault(file.Server.RequestTimeout, defaultRequestTimeout); err != nil {
		return Config{}, fmt.Errorf("server.request_timeout: %w", err)
	}
	if cfg.ServerReadTimeout, err = durationOrDefault(file.Server.ReadTimeout, defaultReadTimeout); err != nil {
		return Config{}, fmt.Errorf("server.read_timeout: %w", err)
	}
	if cfg.ServerWriteTimeout, err = durationOrDefault(file.Server.WriteTimeout, defaultWriteTimeout); err != nil {
		return Config{}, fmt.Errorf("server.write_timeout: %w", err)
	}
	if cfg.ServerIdleTimeout, err = durationOrDefault(file.Server.IdleTimeout, defaultIdleTimeout); err != nil {
		return Config{}, fmt.Errorf("server.idle_timeout: %w", err)
	}
	if cfg.GracefulShutdownTimeout, err = durationOrDefault(file.Server.ShutdownTimeout, defaultShutdownTimeout); err != nil {
		return Config{}, fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	if cfg.StaticDir != "" {
		info, statErr := os.Stat(cfg.StaticDir)
		if statErr != nil {
			return Config{}, fmt.Errorf("static.dir: %w", statErr)
		}
		if !info.IsDir() {
			return Config{}, fmt.Errorf("static.dir %q is not a directory", cfg.StaticDir)
		}
	}

	return cfg, nil
}

func stringOrDefault(val, fallback string) string {
	if strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func boolOrDefault(val *bool, fallback bool) bool {
	if val == nil {
		return fallback
	}
	return *val
}

func durationOrDefault(val string, fallback time.Duration) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", val)
	}
	return parsed, nil
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
