package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"kpi-dashboard/pkg/database"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// Config holds every run-time setting of the service and the CLI.
type Config struct {
	DSN             string
	Pool            database.Pool
	HTTPAddr        string
	CacheTTL        time.Duration
	DefaultStrategy models.Strategy
	LogLevel        string
	LogFile         string
	Kafka           Kafka
}

// Kafka configures data-loaded events. Empty Brokers disables them.
type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether events should be published and consumed.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// fileConfig is the YAML layout. Durations accept seconds or Go durations.
type fileConfig struct {
	DSN      string `yaml:"dsn"`
	Database struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		Name            string `yaml:"name"`
		User            string `yaml:"user"`
		Password        string `yaml:"password"`
		PoolSize        int    `yaml:"pool_size"`
		MaxIdle         int    `yaml:"max_idle"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"database"`
	HTTPAddr        string `yaml:"http_addr"`
	CacheTTL        string `yaml:"cache_ttl"`
	DefaultStrategy string `yaml:"default_strategy"`
	Log             struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	} `yaml:"kafka"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Config {
	return Config{
		Pool:            database.DefaultPool,
		HTTPAddr:        ":8080",
		CacheTTL:        600 * time.Second,
		DefaultStrategy: models.StrategyPushdown,
		LogLevel:        "info",
		Kafka:           Kafka{Topic: "kpi-dashboard.data-loaded", GroupID: "kpi-dashboard"},
	}
}

// Load reads the optional YAML file at path, then overlays environment variables.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Defaults()
	db := dbParts{Host: "localhost", Port: 3306, Name: "kpi_dashboard", User: "kpi"}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
		if err := cfg.applyFile(fc, &db); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(getenv, &db); err != nil {
		return cfg, err
	}
	if cfg.DSN == "" {
		cfg.DSN = database.ComposeMySQLDSN(db.User, db.Password, db.Host, db.Port, db.Name)
	}
	if s, err := kpi.ParseStrategy(string(cfg.DefaultStrategy), models.StrategyPushdown); err == nil {
		cfg.DefaultStrategy = s
	}
	return cfg, cfg.Validate()
}

type dbParts struct {
	Host, Name, User, Password string
	Port                       int
}

func (c *Config) applyFile(fc fileConfig, db *dbParts) error {
	setString(&c.DSN, fc.DSN)
	setString(&db.Host, fc.Database.Host)
	setString(&db.Name, fc.Database.Name)
	setString(&db.User, fc.Database.User)
	setString(&db.Password, fc.Database.Password)
	if fc.Database.Port > 0 {
		db.Port = fc.Database.Port
	}
	if fc.Database.PoolSize > 0 {
		c.Pool.MaxOpen = fc.Database.PoolSize
	}
	if fc.Database.MaxIdle > 0 {
		c.Pool.MaxIdle = fc.Database.MaxIdle
	}
	if err := setDuration(&c.Pool.MaxLifetime, fc.Database.ConnMaxLifetime, "database.conn_max_lifetime"); err != nil {
		return err
	}
	setString(&c.HTTPAddr, fc.HTTPAddr)
	if err := setDuration(&c.CacheTTL, fc.CacheTTL, "cache_ttl"); err != nil {
		return err
	}
	setString((*string)(&c.DefaultStrategy), fc.DefaultStrategy)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFile, fc.Log.File)
	if len(fc.Kafka.Brokers) > 0 {
		c.Kafka.Brokers = fc.Kafka.Brokers
	}
	setString(&c.Kafka.Topic, fc.Kafka.Topic)
	setString(&c.Kafka.GroupID, fc.Kafka.GroupID)
	return nil
}

func (c *Config) applyEnv(getenv func(string) string, db *dbParts) error {
	setString(&c.DSN, getenv("KPI_DASHBOARD_DSN"))
	setString(&db.Host, getenv("DB_HOST"))
	setString(&db.Name, getenv("DB_NAME"))
	setString(&db.User, getenv("DB_USER"))
	setString(&db.Password, getenv("DB_PASSWORD"))
	for _, v := range []struct {
		name string
		dst  *int
	}{
		{"DB_PORT", &db.Port},
		{"DB_POOL_SIZE", &c.Pool.MaxOpen},
		{"DB_MAX_IDLE", &c.Pool.MaxIdle},
	} {
		if s := strings.TrimSpace(getenv(v.name)); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return errors.Newf("%s: expected a positive integer, got %q", v.name, s)
			}
			*v.dst = n
		}
	}
	if err := setDuration(&c.Pool.MaxLifetime, getenv("DB_CONN_MAX_LIFETIME"), "DB_CONN_MAX_LIFETIME"); err != nil {
		return err
	}
	setString(&c.HTTPAddr, getenv("HTTP_ADDR"))
	if err := setDuration(&c.CacheTTL, getenv("CACHE_TTL"), "CACHE_TTL"); err != nil {
		return err
	}
	setString((*string)(&c.DefaultStrategy), getenv("DEFAULT_STRATEGY"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
	setString(&c.LogFile, getenv("LOG_FILE"))
	if s := getenv("KAFKA_BROKERS"); strings.TrimSpace(s) != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(s, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	setString(&c.Kafka.Topic, getenv("KAFKA_TOPIC"))
	setString(&c.Kafka.GroupID, getenv("KAFKA_GROUP_ID"))
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("no database DSN configured")
	}
	strat, err := kpi.ParseStrategy(string(c.DefaultStrategy), models.StrategyPushdown)
	if err != nil {
		return errors.Wrap(err, "default strategy")
	}
	if strat != c.DefaultStrategy {
		return errors.Newf("default strategy: use the canonical name %q", strat)
	}
	if c.CacheTTL <= 0 {
		return errors.Newf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka brokers configured without a topic")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// setDuration accepts a number of seconds or a Go duration string.
func setDuration(dst *time.Duration, v, name string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Newf("%s: expected seconds or a duration, got %q", name, v)
	}
	*dst = d
	return nil
}
