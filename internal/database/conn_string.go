package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/livewire/internal/config"
)

// ApplicationName is reported to the server for every connection.
const ApplicationName = "livewire"

// BuildConnString builds a PostgreSQL connection URL from config.
// Credentials are escaped by url.URL.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
