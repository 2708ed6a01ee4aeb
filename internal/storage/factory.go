package storage

import (
	"errors"
	"net/url"
	"strings"
)

// Open selects a backend from the DSN: postgres URLs get the Postgres store,
// anything else is treated as a SQLite file path.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("storage dsn is required")
	}
	if parsed, err := url.Parse(dsn); err == nil {
		switch strings.ToLower(parsed.Scheme) {
		case "postgres", "postgresql":
			return OpenPostgres(dsn)
		}
	}
	return OpenSQLite(dsn)
}
