// Package config reads service settings from the environment. A .env file
// in the working directory, when present, is loaded first; variables that
// are already set win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultSchema    = "storefront"
	DefaultTxTimeout = 15 * time.Second
)

type Config struct {
	Port              string
	PostgresURL       string
	PostgresSchema    string
	KafkaBrokers      []string
	TxTimeout         time.Duration
	OrdersServiceURL  string
	CatalogServiceURL string
	EmailServiceURL   string
	AdminEmail        string
}

// Load reads the environment. defaultPort is used when PORT is unset.
func Load(defaultPort string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:              getenv("PORT", defaultPort),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		PostgresSchema:    getenv("POSTGRES_SCHEMA", DefaultSchema),
		OrdersServiceURL:  os.Getenv("ORDERS_SERVICE_URL"),
		CatalogServiceURL: os.Getenv("CATALOG_SERVICE_URL"),
		EmailServiceURL:   os.Getenv("EMAIL_SERVICE_URL"),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		TxTimeout:         DefaultTxTimeout,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if raw := os.Getenv("TX_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("TX_TIMEOUT: invalid duration %q", raw)
		}
		cfg.TxTimeout = d
	}

	return cfg, nil
}

// Require takes name, value pairs and returns an error naming the first
// empty value.
func Require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%s environment variable is required", pairs[i])
		}
	}
	return nil
}

// DatabaseDSN returns PostgresURL with search_path pinned to the schema.
// lib/pq sends unknown connection parameters to the server as run-time
// settings, so every pooled connection starts in the schema.
func (c *Config) DatabaseDSN() (string, error) {
	return WithSearchPath(c.PostgresURL, c.PostgresSchema)
}

// WithSearchPath adds search_path to a URL or key=value DSN.
func WithSearchPath(dsn, schema string) (string, error) {
	if schema == "" {
		return dsn, nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	if strings.TrimSpace(dsn) == "" {
		return "search_path=" + schema, nil
	}
	return dsn + " search_path=" + schema, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
