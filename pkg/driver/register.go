package driver

// Blank imports register every supported backend with database/sql.
// Resolve still checks sql.Drivers() so stripped-down builds fail with a
// clear message instead of an opaque "unknown driver" from sql.Open.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)
