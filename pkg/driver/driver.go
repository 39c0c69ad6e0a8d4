// Package driver maps logical driver names to database/sql drivers and
// builds factories that open single physical connections for the pool layer.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/veridata-io/veridata-engine/pkg/apperrors"
)

// connectPingTimeout bounds the liveness check on a freshly opened connection.
const connectPingTimeout = 10 * time.Second

// Conn is one physical database connection as handed to callers.
// *sql.DB satisfies it; each factory pins its handle to a single
// underlying connection so pooling stays under this module's control.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Target describes where a connection should go. Network backends use
// Host/Port/Database/User/Password, embedded backends use Path.
type Target struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string // postgres only: "disable", "require", "verify-ca", "verify-full"
	Path     string // sqlite/duckdb database file, ":memory:" for in-memory
}

// Driver pairs a Kind with its registered database/sql driver and DSN builder.
type Driver struct {
	kind     Kind
	sqlName  string
	buildDSN func(Target) string
}

// table is the closed set of supported backends. A Kind present in
// AllKinds but missing here is caught by TestDriverTableExhaustive.
var table = map[Kind]*Driver{
	Postgres:  {kind: Postgres, sqlName: "pgx", buildDSN: postgresDSN},
	MySQL:     {kind: MySQL, sqlName: "mysql", buildDSN: mysqlDSN},
	SQLite:    {kind: SQLite, sqlName: "sqlite3", buildDSN: sqliteDSN},
	DuckDB:    {kind: DuckDB, sqlName: "duckdb", buildDSN: duckdbDSN},
	SQLServer: {kind: SQLServer, sqlName: "sqlserver", buildDSN: sqlserverDSN},
}

// importHint names the package whose blank import registers each driver.
var importHint = map[Kind]string{
	Postgres:  "github.com/jackc/pgx/v5/stdlib",
	MySQL:     "github.com/go-sql-driver/mysql",
	SQLite:    "github.com/mattn/go-sqlite3",
	DuckDB:    "github.com/marcboeker/go-duckdb/v2",
	SQLServer: "github.com/microsoft/go-mssqldb",
}

// Resolve returns the Driver for a Kind after confirming its database/sql
// driver is registered. The check runs before any network or file I/O so a
// missing client library fails fast with the install step in the message.
func Resolve(kind Kind) (*Driver, error) {
	d, ok := table[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedDriver, kind)
	}
	if !registered(d.sqlName, sql.Drivers()) {
		return nil, fmt.Errorf("%w: %s (add a blank import of %s)",
			apperrors.ErrDriverUnavailable, kind, importHint[kind])
	}
	return d, nil
}

// registered reports whether name appears in the database/sql driver list.
func registered(name string, drivers []string) bool {
	for _, d := range drivers {
		if d == name {
			return true
		}
	}
	return false
}

// Kind returns the backend this driver serves.
func (d *Driver) Kind() Kind {
	return d.kind
}

// Factory binds the driver to one Target.
func (d *Driver) Factory(target Target) *Factory {
	return &Factory{driver: d, dsn: d.buildDSN(target)}
}

// Factory opens physical connections to a single fixed target.
type Factory struct {
	driver *Driver
	dsn    string
}

// Kind returns the backend this factory connects to.
func (f *Factory) Kind() Kind {
	return f.driver.kind
}

// DSN returns the connection string. Sanitize before logging.
func (f *Factory) DSN() string {
	return f.dsn
}

// Connect opens exactly one physical connection and verifies it is alive.
// The returned handle is a *sql.DB pinned to a single connection, so the
// pool layer, not database/sql, owns reuse policy.
func (f *Factory) Connect(ctx context.Context) (Conn, error) {
	db, err := sql.Open(f.driver.sqlName, f.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", f.driver.kind, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", f.driver.kind, err)
	}
	return db, nil
}

func postgresDSN(t Target) string {
	port := t.Port
	if port == 0 {
		port = 5432
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s", t.Host, port, t.User, t.Database)
	if t.Password != "" {
		dsn += " password=" + t.Password
	}
	if t.SSLMode != "" {
		dsn += " sslmode=" + t.SSLMode
	}
	return dsn
}

func mysqlDSN(t Target) string {
	port := t.Port
	if port == 0 {
		port = 3306
	}
	cred := t.User
	if t.Password != "" {
		cred += ":" + t.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cred, t.Host, port, t.Database)
}

func sqliteDSN(t Target) string {
	if t.Path != "" {
		return t.Path
	}
	return t.Database
}

func duckdbDSN(t Target) string {
	path := t.Path
	if path == "" {
		path = t.Database
	}
	// go-duckdb uses an empty DSN for an in-memory database
	if path == ":memory:" {
		return ""
	}
	return path
}

func sqlserverDSN(t Target) string {
	port := t.Port
	if port == 0 {
		port = 1433
	}
	u := url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", t.Host, port),
	}
	if t.Password != "" {
		u.User = url.UserPassword(t.User, t.Password)
	} else if t.User != "" {
		u.User = url.User(t.User)
	}
	q := url.Values{}
	q.Set("database", t.Database)
	u.RawQuery = q.Encode()
	return u.String()
}
