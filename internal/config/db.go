// Package config builds the explicit configuration objects a run needs:
// database connection settings from the environment, the pipeline config
// file, and the SQL query files it references.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"erpsync/internal/storage"
)

// ErrConfig marks every configuration error. Configuration errors are fatal
// at setup and never retried.
var ErrConfig = errors.New("config")

// Default environment prefixes of the two stores.
const (
	SourcePrefix = "UNICO"
	TargetPrefix = "MERCADO"
)

// DB describes one relational store.
type DB struct {
	Kind     string // postgres, mssql or sqlite
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Schema   string
	SSLMode  string
	Params   string // extra DSN query parameters, "k=v&k2=v2"
}

// LoadDotEnv loads files (default ".env") into the process environment
// without overriding variables that are already set. Missing files are not
// an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrConfig, strings.Join(present, ", "), err)
	}
	return nil
}

// DBFromEnv reads <PREFIX>_KIND, _HOST, _PORT, _DB, _USER, _PASSWORD,
// _SCHEMA, _SSLMODE and _PARAMS. Kind defaults to postgres.
//
// Only syntax is checked here; call Validate before opening a connection.
func DBFromEnv(prefix string) (DB, error) {
	get := func(k string) string { return strings.TrimSpace(os.Getenv(prefix + "_" + k)) }

	db := DB{
		Kind:     strings.ToLower(get("KIND")),
		Host:     get("HOST"),
		Name:     get("DB"),
		User:     get("USER"),
		Password: os.Getenv(prefix + "_PASSWORD"),
		Schema:   get("SCHEMA"),
		SSLMode:  get("SSLMODE"),
		Params:   get("PARAMS"),
	}
	if db.Kind == "" {
		db.Kind = "postgres"
	}
	if p := get("PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return DB{}, fmt.Errorf("%w: %s_PORT: invalid port %q", ErrConfig, prefix, p)
		}
		db.Port = n
	}
	return db, nil
}

// Validate reports every missing required field at once.
//
// SQLite only needs Name (the database path); server kinds need host, name,
// user and password.
func (d DB) Validate() error {
	var missing []string
	switch d.Kind {
	case "sqlite":
		if d.Name == "" {
			missing = append(missing, "name")
		}
	case "postgres", "mssql":
		for _, f := range []struct{ name, v string }{
			{"host", d.Host}, {"name", d.Name}, {"user", d.User}, {"password", d.Password},
		} {
			if f.v == "" {
				missing = append(missing, f.name)
			}
		}
	default:
		return fmt.Errorf("%w: unsupported database kind %q", ErrConfig, d.Kind)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s database: missing %s", ErrConfig, d.Kind, strings.Join(missing, ", "))
	}
	return nil
}

// DSN renders the connection string for d's kind.
func (d DB) DSN() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	switch d.Kind {
	case "sqlite":
		return d.Name, nil
	case "postgres":
		u := &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   hostPort(d.Host, d.Port, 5432),
			Path:   "/" + d.Name,
		}
		q := url.Values{}
		if d.SSLMode != "" {
			q.Set("sslmode", d.SSLMode)
		}
		appendRawParams(q, d.Params)
		u.RawQuery = q.Encode()
		return u.String(), nil
	default: // mssql
		u := &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(d.User, d.Password),
			Host:   hostPort(d.Host, d.Port, 1433),
		}
		q := url.Values{}
		q.Set("database", d.Name)
		encrypt := d.SSLMode
		if encrypt == "" {
			encrypt = "disable"
		}
		q.Set("encrypt", encrypt)
		appendRawParams(q, d.Params)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
}

// Storage returns the storage.Config that opens d.
func (d DB) Storage() (storage.Config, error) {
	dsn, err := d.DSN()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Kind: d.Kind, DSN: dsn}, nil
}

// Redacted is d's DSN with the password masked, for logs.
func (d DB) Redacted() string {
	dsn, err := d.DSN()
	if err != nil {
		return d.Kind + "://<invalid>"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

func hostPort(host string, port, def int) string {
	if port == 0 {
		port = def
	}
	return host + ":" + strconv.Itoa(port)
}

// appendRawParams merges "k=v&k2=v2" into q; later keys win.
func appendRawParams(q url.Values, raw string) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	if raw == "" {
		return
	}
	extra, err := url.ParseQuery(raw)
	if err != nil {
		return
	}
	for k, vs := range extra {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
}
