package database

import (
	"fmt"
	"net/url"

	coreconfig "github.com/m3rciful/inboxbot/core/config"
)

// DSN renders the keyword/value connection string used by lib/pq.
func DSN(cfg coreconfig.DatabaseConfig) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// MigrateURL renders the postgres:// URL golang-migrate expects. The schema
// version is tracked per address table so several bots can share a database.
func MigrateURL(cfg coreconfig.DatabaseConfig, table string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + cfg.Port,
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	q.Set("x-migrations-table", table+"_schema_migrations")
	u.RawQuery = q.Encode()
	return u.String()
}
