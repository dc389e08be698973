package sqltarget

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/systmms/rotator/pkg/rotation"
)

// Engine names a database engine.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

// ParseEngine maps the engine names found in RDS style secrets to an Engine.
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "aurora-postgresql":
		return EnginePostgres, nil
	case "mysql", "mariadb", "aurora-mysql", "aurora":
		return EngineMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database engine: %q", name)
	}
}

// Driver returns the database/sql driver name of the engine.
func (e Engine) Driver() string {
	if e == EngineMySQL {
		return "mysql"
	}
	return "postgres"
}

// DefaultPort returns the engine's standard port.
func (e Engine) DefaultPort() string {
	if e == EngineMySQL {
		return "3306"
	}
	return "5432"
}

// endpoint is where and as whom to connect.
type endpoint struct {
	host     string
	port     string
	dbname   string
	username string
	password string
}

func endpointOf(engine Engine, value rotation.SecretValue) endpoint {
	ep := endpoint{
		host:     value.String(rotation.FieldHost),
		port:     value.String(rotation.FieldPort),
		dbname:   value.String(rotation.FieldDBName),
		username: value.Username(),
		password: value.Password(),
	}
	if ep.port == "" {
		ep.port = engine.DefaultPort()
	}
	if ep.dbname == "" && engine == EnginePostgres {
		ep.dbname = "postgres"
	}
	return ep
}

// dsn builds the driver connection string.
func (t *Target) dsn(engine Engine, ep endpoint) string {
	if engine == EngineMySQL {
		return buildMySQLDSN(ep, t.cfg.Timeout)
	}
	return buildPostgreSQLDSN(ep, t.cfg.SSLMode, t.cfg.Timeout)
}

func buildPostgreSQLDSN(ep endpoint, sslmode string, timeout time.Duration) string {
	parts := []string{
		"host=" + quoteDSNValue(ep.host),
		"port=" + quoteDSNValue(ep.port),
		"dbname=" + quoteDSNValue(ep.dbname),
		"user=" + quoteDSNValue(ep.username),
		"password=" + quoteDSNValue(ep.password),
	}
	if sslmode != "" {
		parts = append(parts, "sslmode="+quoteDSNValue(sslmode))
	}
	if timeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(timeout.Seconds()+0.5)))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes a libpq keyword/value connection string value.
func quoteDSNValue(v string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

func buildMySQLDSN(ep endpoint, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = ep.username
	cfg.Passwd = ep.password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(ep.host, ep.port)
	cfg.DBName = ep.dbname
	cfg.InterpolateParams = true
	cfg.ParseTime = true
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg.FormatDSN()
}
