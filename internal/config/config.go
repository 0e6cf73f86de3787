package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Storage.
	DBDriver     string
	DBHost       string
	DBPort       int
	DBUser       string
	DBPassword   string
	DBName       string
	DBSchema     string
	DBSearchPath []string
	DBMaxConns   int32
	SQLitePath   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Published collections.
	ResourcesFile string
	Resources     []Resource
	DefaultLimit  int
	MaxLimit      int

	// Observation ingest from Kafka.
	IngestEnabled      bool
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaGroupID       string
	KafkaDLQTopic      string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	port, err := parsePositiveInt("CDM_DB_PORT", "5432")
	if err != nil {
		return nil, err
	}
	maxConns, err := parsePositiveInt("CDM_DB_MAX_CONNS", "10")
	if err != nil {
		return nil, err
	}
	defaultLimit, err := parsePositiveInt("CDM_DEFAULT_LIMIT", "10")
	if err != nil {
		return nil, err
	}
	maxLimit, err := parsePositiveInt("CDM_MAX_LIMIT", "10000")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBDriver:     strings.ToLower(sharedcfg.EnvOrDefault("CDM_DB_DRIVER", DriverPostgres)),
		DBHost:       sharedcfg.EnvOrDefault("CDM_DB_HOST", "127.0.0.1"),
		DBPort:       port,
		DBUser:       sharedcfg.EnvOrDefault("CDM_DB_USER", "postgres"),
		DBPassword:   sharedcfg.EnvOrDefault("CDM_DB_PASSWORD", "password"),
		DBName:       sharedcfg.EnvOrDefault("CDM_DB_NAME", "postgres"),
		DBSchema:     sharedcfg.EnvOrDefault("CDM_DB_SCHEMA", "cdm"),
		DBSearchPath: splitList(sharedcfg.EnvOrDefault("CDM_DB_SEARCH_PATH", "cdm,public")),
		DBMaxConns:   int32(maxConns),
		SQLitePath:   sharedcfg.EnvOrDefault("CDM_SQLITE_PATH", "cdm.db"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ResourcesFile: os.Getenv("CDM_RESOURCES_FILE"),
		DefaultLimit:  defaultLimit,
		MaxLimit:      maxLimit,

		IngestEnabled:      os.Getenv("CDM_INGEST_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         sharedcfg.EnvOrDefault("KAFKA_TOPIC", "cdm.observations"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "cdm-ingest"),
		KafkaDLQTopic:      os.Getenv("KAFKA_DLQ_TOPIC"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.ResourcesFile != "" {
		cfg.Resources, err = LoadResources(cfg.ResourcesFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Resources = DefaultResources()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DBHost == "" {
			return errors.New("CDM_DB_HOST is required")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("CDM_SQLITE_PATH is required when CDM_DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("invalid CDM_DB_DRIVER %q: must be postgres or sqlite", c.DBDriver)
	}
	if c.DefaultLimit > c.MaxLimit {
		return errors.New("CDM_DEFAULT_LIMIT must not exceed CDM_MAX_LIMIT")
	}
	if len(c.Resources) == 0 {
		return errors.New("no resources configured")
	}
	if c.IngestEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required")
		}
	}
	return nil
}

// PostgresDSN builds the connection URL, carrying the search path as a
// runtime parameter.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	if len(c.DBSearchPath) > 0 {
		q := url.Values{}
		q.Set("search_path", strings.Join(c.DBSearchPath, ","))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Redacted returns the DSN with the password masked, for logging.
func (c *Config) Redacted() string {
	u, err := url.Parse(c.PostgresDSN())
	if err != nil {
		return ""
	}
	return u.Redacted()
}

func parsePositiveInt(name, fallback string) (int, error) {
	s := sharedcfg.EnvOrDefault(name, fallback)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, s)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
