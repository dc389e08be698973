// Package sqltarget rotates the password of a PostgreSQL or MySQL user.
//
// The secret value follows the RDS layout: engine, host, port, dbname,
// username and password. The user being rotated is the username in the
// secret. The password change runs either as a configured master user or,
// for single-user rotation, as the user itself with its current password.
package sqltarget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/schema"
	"github.com/systmms/rotator/internal/secure"
	"github.com/systmms/rotator/pkg/rotation"
)

// DefaultTimeout bounds each connection attempt.
const DefaultTimeout = 5 * time.Second

// Config holds connection settings that are not part of the secret value.
type Config struct {
	// Engine overrides the secret's engine field.
	Engine Engine

	// SSLMode is passed to PostgreSQL connections. Default: require.
	SSLMode string

	// Timeout bounds each connection attempt. Default: 5s.
	Timeout time.Duration

	// MasterUsername and MasterPassword, when set, are used to change the
	// rotated user's password instead of the user's current password.
	MasterUsername string
	MasterPassword *secure.Credential
}

// Opener opens a database handle. Tests substitute go-sqlmock.
type Opener func(driver, dsn string) (*sql.DB, error)

// Target implements rotation.CredentialTarget for SQL databases.
type Target struct {
	cfg    Config
	open   Opener
	logger *logging.Logger
}

// Option configures a Target.
type Option func(*Target)

// WithOpener replaces sql.Open (for testing).
func WithOpener(open Opener) Option {
	return func(t *Target) {
		t.open = open
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Target) {
		t.logger = logger
	}
}

// New creates a SQL target.
func New(cfg Config, opts ...Option) *Target {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	t := &Target{
		cfg:    cfg,
		open:   sql.Open,
		logger: logging.New(false, true),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ApplyCredential implements rotation.CredentialTarget. When the pending
// password already logs in nothing is changed, which makes repeated
// setSecret deliveries harmless.
func (t *Target) ApplyCredential(ctx context.Context, req rotation.ApplyRequest) error {
	engine, err := t.engineOf(req.Pending)
	if err != nil {
		return err
	}

	ok, err := t.VerifyCredential(ctx, req.Pending)
	if err != nil {
		return err
	}
	if ok {
		t.logger.Info("Pending password for user %s is already in place", req.Pending.Username())
		return nil
	}

	admin, err := t.adminEndpoint(engine, req)
	if err != nil {
		return err
	}

	db, err := t.connect(ctx, engine, admin)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	pending := endpointOf(engine, req.Pending)
	if err := t.changePassword(ctx, db, engine, pending.username, pending.password); err != nil {
		return err
	}

	t.logger.Info("Updated password for user %s on %s as %s", pending.username, pending.host, admin.username)
	return nil
}

// VerifyCredential implements rotation.CredentialTarget. It logs in with the
// value, pings and runs SELECT 1. An authentication failure is reported as
// (false, nil).
func (t *Target) VerifyCredential(ctx context.Context, value rotation.SecretValue) (bool, error) {
	engine, err := t.engineOf(value)
	if err != nil {
		return false, err
	}

	db, err := t.connect(ctx, engine, endpointOf(engine, value))
	if err != nil {
		if isAuthFailure(err) {
			t.logger.Debug("Login rejected for user %s", value.Username())
			return false, nil
		}
		return false, err
	}
	defer func() { _ = db.Close() }()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		if isAuthFailure(err) {
			return false, nil
		}
		return false, rotation.Unavailable("verify query", err)
	}

	t.logger.Debug("Login succeeded for user %s", value.Username())
	return one == 1, nil
}

func (t *Target) engineOf(value rotation.SecretValue) (Engine, error) {
	if err := schema.Validate(schema.Database, value); err != nil {
		return "", err
	}
	if t.cfg.Engine != "" {
		return t.cfg.Engine, nil
	}
	name := value.String(rotation.FieldEngine)
	if name == "" {
		return "", fmt.Errorf("secret has no engine field and no engine is configured")
	}
	return ParseEngine(name)
}

func (t *Target) adminEndpoint(engine Engine, req rotation.ApplyRequest) (endpoint, error) {
	admin := endpointOf(engine, req.Pending)

	if t.cfg.MasterUsername != "" && t.cfg.MasterPassword != nil {
		password, err := t.cfg.MasterPassword.Reveal()
		if err != nil {
			return endpoint{}, fmt.Errorf("failed to open master password: %w", err)
		}
		admin.username = t.cfg.MasterUsername
		admin.password = password
		return admin, nil
	}

	if req.Current == nil || req.Current.Password() == "" {
		return endpoint{}, fmt.Errorf("no current password for user %s and no master user configured", req.Pending.Username())
	}
	admin.password = req.Current.Password()
	return admin, nil
}

func (t *Target) connect(ctx context.Context, engine Engine, ep endpoint) (*sql.DB, error) {
	db, err := t.open(engine.Driver(), t.dsn(engine, ep))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", engine, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if isAuthFailure(err) {
			return nil, err
		}
		return nil, rotation.Unavailable(fmt.Sprintf("connect to %s", ep.host), err)
	}
	return db, nil
}

func (t *Target) changePassword(ctx context.Context, db *sql.DB, engine Engine, username, password string) error {
	if engine == EngineMySQL {
		// ALTER USER commits implicitly, so there is no transaction here.
		if _, err := db.ExecContext(ctx, "ALTER USER ? IDENTIFIED BY ?", username, password); err != nil {
			return fmt.Errorf("failed to execute rotate command: %w", err)
		}
		return nil
	}

	stmt := fmt.Sprintf("ALTER USER %s WITH PASSWORD %s", pq.QuoteIdentifier(username), pq.QuoteLiteral(password))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute rotate command: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isAuthFailure reports wrong password or unknown user errors.
func isAuthFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "28P01" || pqErr.Code == "28000"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1045
	}
	return false
}
