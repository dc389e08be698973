package sqltarget

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secure"
	"github.com/systmms/rotator/pkg/rotation"
)

// mockOpener hands out one sqlmock database per Open call, in order.
type mockOpener struct {
	t       *testing.T
	dbs     []*sql.DB
	mocks   []sqlmock.Sqlmock
	dsns    []string
	drivers []string
}

func (m *mockOpener) next() sqlmock.Sqlmock {
	m.t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true), sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(m.t, err)
	m.dbs = append(m.dbs, db)
	m.mocks = append(m.mocks, mock)
	return mock
}

func (m *mockOpener) open(driver, dsn string) (*sql.DB, error) {
	i := len(m.dsns)
	if i >= len(m.dbs) {
		return nil, fmt.Errorf("unexpected connection #%d", i+1)
	}
	m.drivers = append(m.drivers, driver)
	m.dsns = append(m.dsns, dsn)
	return m.dbs[i], nil
}

func (m *mockOpener) verify() {
	m.t.Helper()
	for i, mock := range m.mocks {
		assert.NoError(m.t, mock.ExpectationsWereMet(), "connection #%d", i+1)
	}
}

func newTarget(t *testing.T, cfg Config) (*Target, *mockOpener) {
	t.Helper()
	opener := &mockOpener{t: t}
	logger := logging.New(true, true)
	logger.SetOutput(&bytes.Buffer{})
	return New(cfg, WithOpener(opener.open), WithLogger(logger)), opener
}

func secretValue(engine, password string) rotation.SecretValue {
	return rotation.SecretValue{
		"engine":   engine,
		"host":     "db.internal",
		"port":     float64(5432),
		"dbname":   "app",
		"username": "app",
		"password": password,
	}
}

func expectLogin(mock sqlmock.Sqlmock) {
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectClose()
}

func expectRejected(mock sqlmock.Sqlmock, err error) {
	mock.ExpectPing().WillReturnError(err)
	mock.ExpectClose()
}

func TestVerifyCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		engine    string
		setupMock func(mock sqlmock.Sqlmock)
		wantOK    bool
		wantErr   bool
		transient bool
	}{
		{
			name:      "postgres login succeeds",
			engine:    "postgres",
			setupMock: expectLogin,
			wantOK:    true,
		},
		{
			name:   "postgres wrong password",
			engine: "postgres",
			setupMock: func(mock sqlmock.Sqlmock) {
				expectRejected(mock, &pq.Error{Code: "28P01", Message: "password authentication failed"})
			},
		},
		{
			name:   "mysql access denied",
			engine: "mysql",
			setupMock: func(mock sqlmock.Sqlmock) {
				expectRejected(mock, &mysql.MySQLError{Number: 1045, Message: "Access denied"})
			},
		},
		{
			name:   "network failure",
			engine: "postgres",
			setupMock: func(mock sqlmock.Sqlmock) {
				expectRejected(mock, errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"))
			},
			wantErr:   true,
			transient: true,
		},
		{
			name:   "query fails",
			engine: "mysql",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("server gone away"))
				mock.ExpectClose()
			},
			wantErr:   true,
			transient: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			target, opener := newTarget(t, Config{})
			tt.setupMock(opener.next())

			ok, err := target.VerifyCredential(context.Background(), secretValue(tt.engine, "pending"))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.transient, errors.Is(err, rotation.ErrStoreUnavailable))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOK, ok)
			opener.verify()
		})
	}
}

func TestApplyCredentialPostgres(t *testing.T) {
	t.Parallel()

	target, opener := newTarget(t, Config{})

	expectRejected(opener.next(), &pq.Error{Code: "28P01"})

	admin := opener.next()
	admin.ExpectPing()
	admin.ExpectBegin()
	admin.ExpectExec(`ALTER USER "app" WITH PASSWORD 'it''s-new'`).WillReturnResult(sqlmock.NewResult(0, 0))
	admin.ExpectCommit()
	admin.ExpectClose()

	err := target.ApplyCredential(context.Background(), rotation.ApplyRequest{
		SecretID: "app/db",
		Token:    "t2",
		Pending:  secretValue("postgres", "it's-new"),
		Current:  secretValue("postgres", "old"),
	})
	require.NoError(t, err)
	opener.verify()

	require.Len(t, opener.dsns, 2)
	assert.Contains(t, opener.dsns[0], `password='it\'s-new'`)
	assert.Contains(t, opener.dsns[1], "password='old'")
	assert.Contains(t, opener.dsns[1], "user='app'")
	assert.Equal(t, []string{"postgres", "postgres"}, opener.drivers)
}

func TestApplyCredentialMySQLWithMasterUser(t *testing.T) {
	t.Parallel()

	master := secure.NewCredential("master-pw")
	defer master.Destroy()

	target, opener := newTarget(t, Config{MasterUsername: "admin", MasterPassword: master})

	expectRejected(opener.next(), &mysql.MySQLError{Number: 1045})

	admin := opener.next()
	admin.ExpectPing()
	admin.ExpectExec("ALTER USER ? IDENTIFIED BY ?").WithArgs("app", "new-pw").WillReturnResult(sqlmock.NewResult(0, 0))
	admin.ExpectClose()

	err := target.ApplyCredential(context.Background(), rotation.ApplyRequest{
		SecretID: "app/db",
		Token:    "t2",
		Pending:  secretValue("mariadb", "new-pw"),
	})
	require.NoError(t, err)
	opener.verify()

	require.Len(t, opener.dsns, 2)
	assert.Contains(t, opener.dsns[1], "admin:master-pw@tcp(db.internal:5432)/app")
	assert.Contains(t, opener.dsns[1], "interpolateParams=true")
	assert.Equal(t, "mysql", opener.drivers[1])
}

func TestApplyCredentialIsIdempotent(t *testing.T) {
	t.Parallel()

	target, opener := newTarget(t, Config{})
	expectLogin(opener.next())

	err := target.ApplyCredential(context.Background(), rotation.ApplyRequest{
		Pending: secretValue("postgres", "already-set"),
		Current: secretValue("postgres", "old"),
	})
	require.NoError(t, err)
	opener.verify()
	assert.Len(t, opener.dsns, 1, "no admin connection when the password is already in place")
}

func TestApplyCredentialFailures(t *testing.T) {
	t.Parallel()

	t.Run("no way to authenticate", func(t *testing.T) {
		t.Parallel()
		target, opener := newTarget(t, Config{})
		expectRejected(opener.next(), &pq.Error{Code: "28P01"})

		err := target.ApplyCredential(context.Background(), rotation.ApplyRequest{Pending: secretValue("postgres", "new")})
		assert.ErrorContains(t, err, "no master user configured")
	})

	t.Run("alter fails and rolls back", func(t *testing.T) {
		t.Parallel()
		target, opener := newTarget(t, Config{})
		expectRejected(opener.next(), &pq.Error{Code: "28P01"})
		admin := opener.next()
		admin.ExpectPing()
		admin.ExpectBegin()
		admin.ExpectExec(`ALTER USER "app" WITH PASSWORD 'new'`).WillReturnError(errors.New("permission denied"))
		admin.ExpectRollback()
		admin.ExpectClose()

		err := target.ApplyCredential(context.Background(), rotation.ApplyRequest{
			Pending: secretValue("postgres", "new"),
			Current: secretValue("postgres", "old"),
		})
		assert.ErrorContains(t, err, "failed to execute rotate command")
		opener.verify()
	})

	t.Run("invalid secret value", func(t *testing.T) {
		t.Parallel()
		target, _ := newTarget(t, Config{})
		err := target.ApplyCredential(context.Background(), rotation.ApplyRequest{
			Pending: rotation.SecretValue{"username": "app"},
		})
		assert.Error(t, err)
	})

	t.Run("unknown engine", func(t *testing.T) {
		t.Parallel()
		target, _ := newTarget(t, Config{})
		value := secretValue("postgres", "x")
		delete(value, "engine")
		_, err := target.VerifyCredential(context.Background(), value)
		assert.ErrorContains(t, err, "no engine field")
	})
}

func TestParseEngine(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Engine{
		"postgres":          EnginePostgres,
		"PostgreSQL":        EnginePostgres,
		"aurora-postgresql": EnginePostgres,
		"mysql":             EngineMySQL,
		"mariadb":           EngineMySQL,
	} {
		got, err := ParseEngine(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseEngine("oracle")
	assert.Error(t, err)
}

func TestConnectionStrings(t *testing.T) {
	t.Parallel()

	ep := endpoint{host: "db", port: "5432", dbname: "app", username: "app", password: `a b'c\d`}
	dsn := buildPostgreSQLDSN(ep, "disable", 5*time.Second)
	assert.Equal(t, `host='db' port='5432' dbname='app' user='app' password='a b\'c\\d' sslmode='disable' connect_timeout=5`, dsn)

	ep.port = "3306"
	my := buildMySQLDSN(ep, 2*time.Second)
	parsed, err := mysql.ParseDSN(my)
	require.NoError(t, err)
	assert.Equal(t, ep.password, parsed.Passwd)
	assert.Equal(t, "db:3306", parsed.Addr)
	assert.True(t, parsed.InterpolateParams)
	assert.Equal(t, 2*time.Second, parsed.Timeout)

	defaults := endpointOf(EngineMySQL, rotation.SecretValue{"host": "h", "username": "u", "password": "p"})
	assert.Equal(t, "3306", defaults.port)
	assert.Empty(t, defaults.dbname)
	assert.Equal(t, "postgres", endpointOf(EnginePostgres, rotation.SecretValue{}).dbname)
}
