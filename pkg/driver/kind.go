package driver

import (
	"fmt"
	"strings"

	"github.com/veridata-io/veridata-engine/pkg/apperrors"
)

// Kind identifies a supported database backend.
type Kind string

const (
	Postgres  Kind = "postgres"
	MySQL     Kind = "mysql"
	SQLite    Kind = "sqlite"
	DuckDB    Kind = "duckdb"
	SQLServer Kind = "sqlserver"
)

// AllKinds returns every supported backend, in stable order.
// Used by exhaustiveness checks over the driver table.
func AllKinds() []Kind {
	return []Kind{Postgres, MySQL, SQLite, DuckDB, SQLServer}
}

// ParseKind maps a configured driver name to a Kind. Common aliases
// (postgresql, mariadb, mssql) are accepted case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedDriver, s)
	}
}

func (k Kind) String() string {
	return string(k)
}

// Embedded reports whether the backend is file-based rather than networked.
func (k Kind) Embedded() bool {
	return k == SQLite || k == DuckDB
}
