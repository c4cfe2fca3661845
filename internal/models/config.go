// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every keyhub component.
//
// Configuration layout:
// - Server: HTTP listener, deployment mode and CORS
// - Storage: which backend holds the keys, usage and ip_records documents
// - Pool: where the initial key pool comes from
// - Verify: how candidate keys are checked
// - Usage: daily counter rollover
// - Security: client address trust and rate limiting
// - Logging, Metrics, Observability: ambient concerns
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON      = "json"
	StorageTypeMemory    = "memory"
	StorageTypePostgres  = "postgres"
	StorageTypeSQLite    = "sqlite"
	StorageTypeRedis     = "redis"
	StorageTypeFirestore = "firestore"
)

// Deployment modes. Seeding of the key pool only happens in server mode.
const (
	ModeServer   = "server"
	ModeFunction = "function"
)

// Verification modes and collaborator providers.
const (
	VerifyModeCollaborator = "collaborator"
	VerifyModePool         = "pool"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Pool          PoolConfig          `yaml:"pool" json:"pool"`
	Verify        VerifyConfig        `yaml:"verify" json:"verify"`
	Usage         UsageConfig         `yaml:"usage" json:"usage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	Mode         string        `yaml:"mode" json:"mode"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// StorageConfig selects the document backend. Path is a directory for the
// json backend; each document lives in <path>/<name>.json.
type StorageConfig struct {
	Type      string            `yaml:"type" json:"type"`
	Path      string            `yaml:"path" json:"path"`
	Database  DatabaseConfig    `yaml:"database" json:"database"`
	Redis     RedisConfig       `yaml:"redis" json:"redis"`
	Firestore FirestoreConfig   `yaml:"firestore" json:"firestore"`
	Options   map[string]string `yaml:"options" json:"options"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	Table           string        `yaml:"table" json:"table"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" json:"project_id"`
	Collection      string `yaml:"collection" json:"collection"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// PoolConfig describes the seed list used to create the key pool when the
// keys document does not exist yet.
type PoolConfig struct {
	SeedFile string   `yaml:"seed_file" json:"seed_file"`
	SeedKeys []string `yaml:"seed_keys" json:"seed_keys"`
}

type VerifyConfig struct {
	Mode      string        `yaml:"mode" json:"mode"`
	Provider  string        `yaml:"provider" json:"provider"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	MinLength int           `yaml:"min_length" json:"min_length"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	// CompletionPath and AccountPath are joined onto BaseURL.
	CompletionPath string `yaml:"completion_path" json:"completion_path"`
	AccountPath    string `yaml:"account_path" json:"account_path"`
	Model          string `yaml:"model" json:"model"`
}

type UsageConfig struct {
	// Location is an IANA zone name; "Local" uses the host zone.
	Location         string `yaml:"location" json:"location"`
	RolloverSchedule string `yaml:"rollover_schedule" json:"rollover_schedule"`
}

type SecurityConfig struct {
	RateLimit        RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	TrustedProxies   []string        `yaml:"trusted_proxies" json:"trusted_proxies"`
	AllowBodyAddress bool            `yaml:"allow_body_address" json:"allow_body_address"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that runs out of the box:
// JSON documents under ./data, port 3000, collaborator verification against
// an OpenAI-compatible endpoint and per-address rate limiting.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			Host:         "0.0.0.0",
			Mode:         ModeServer,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeJSON,
			Path: "./data",
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
				Table:           "keyhub_documents",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "keyhub:doc:",
			},
			Firestore: FirestoreConfig{
				Collection: "keyhub_documents",
			},
			Options: make(map[string]string),
		},
		Pool: PoolConfig{
			SeedKeys: []string{},
		},
		Verify: VerifyConfig{
			Mode:           VerifyModeCollaborator,
			Provider:       ProviderOpenAI,
			KeyPrefix:      "sk-",
			MinLength:      20,
			Timeout:        10 * time.Second,
			BaseURL:        "https://api.siliconflow.cn/v1",
			CompletionPath: "/chat/completions",
			AccountPath:    "/user/info",
			Model:          "Qwen/Qwen2.5-7B-Instruct",
		},
		Usage: UsageConfig{
			Location:         "Local",
			RolloverSchedule: "@midnight",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			TrustedProxies:   []string{},
			AllowBodyAddress: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "keyhub",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Verify.Validate(); err != nil {
		return fmt.Errorf("invalid verify config: %w", err)
	}

	if err := c.Usage.Validate(); err != nil {
		return fmt.Errorf("invalid usage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.Mode != ModeServer && sc.Mode != ModeFunction {
		return fmt.Errorf("invalid mode: %s", sc.Mode)
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	return nil
}

// StorageTypes lists every supported backend.
func StorageTypes() []string {
	return []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite, StorageTypeRedis, StorageTypeFirestore}
}

func (stc *StorageConfig) Validate() error {
	if !slices.Contains(StorageTypes(), stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	switch stc.Type {
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
	case StorageTypeFirestore:
		if stc.Firestore.ProjectID == "" {
			return errors.New("project ID is required for firestore storage")
		}
	}

	return nil
}

func (vc *VerifyConfig) Validate() error {
	switch vc.Mode {
	case VerifyModePool:
	case VerifyModeCollaborator:
		if vc.Provider != ProviderOpenAI && vc.Provider != ProviderGemini {
			return fmt.Errorf("invalid verify provider: %s", vc.Provider)
		}
		if vc.Provider == ProviderOpenAI && vc.BaseURL == "" {
			return errors.New("base URL is required for the openai provider")
		}
	default:
		return fmt.Errorf("invalid verify mode: %s", vc.Mode)
	}

	if vc.MinLength < 0 {
		return errors.New("minimum key length cannot be negative")
	}

	if vc.Timeout <= 0 {
		return errors.New("verify timeout must be positive")
	}

	return nil
}

// LoadLocation resolves the configured zone used to compute the usage date.
func (uc *UsageConfig) LoadLocation() (*time.Location, error) {
	if uc.Location == "" || strings.EqualFold(uc.Location, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(uc.Location)
}

func (uc *UsageConfig) Validate() error {
	if _, err := uc.LoadLocation(); err != nil {
		return fmt.Errorf("invalid location %q: %w", uc.Location, err)
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.RateLimit.Enabled {
		if sec.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("requests per minute must be positive")
		}
		if sec.RateLimit.BurstSize < 0 {
			return errors.New("burst size cannot be negative")
		}
		if sec.RateLimit.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
	}

	if _, err := sec.TrustedPrefixes(); err != nil {
		return err
	}

	return nil
}

// TrustedPrefixes parses TrustedProxies. Bare addresses are treated as
// single-host prefixes.
func (sec *SecurityConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(sec.TrustedProxies))
	for _, entry := range sec.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
