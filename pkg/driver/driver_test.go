package driver

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridata-io/veridata-engine/pkg/apperrors"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"postgres", Postgres},
		{"postgresql", Postgres},
		{"POSTGRES", Postgres},
		{"mysql", MySQL},
		{"mariadb", MySQL},
		{"sqlite", SQLite},
		{"sqlite3", SQLite},
		{"duckdb", DuckDB},
		{"sqlserver", SQLServer},
		{"mssql", SQLServer},
		{" postgres ", Postgres},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKind_Unknown(t *testing.T) {
	_, err := ParseKind("oracle")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDriver)
	assert.Contains(t, err.Error(), "oracle")
}

func TestDriverTableExhaustive(t *testing.T) {
	for _, kind := range AllKinds() {
		d, ok := table[kind]
		require.True(t, ok, "kind %s missing from driver table", kind)
		assert.NotEmpty(t, d.sqlName, "kind %s has no sql driver name", kind)
		assert.NotNil(t, d.buildDSN, "kind %s has no DSN builder", kind)
		assert.NotEmpty(t, importHint[kind], "kind %s has no import hint", kind)
	}
	assert.Len(t, table, len(AllKinds()))
}

func TestResolve_AllKindsAvailable(t *testing.T) {
	// register.go blank-imports every backend, so resolution never
	// touches the network and always succeeds here.
	for _, kind := range AllKinds() {
		d, err := Resolve(kind)
		require.NoError(t, err, "resolve %s", kind)
		assert.Equal(t, kind, d.Kind())
		assert.Contains(t, sql.Drivers(), d.sqlName)
	}
}

func TestResolve_UnknownKind(t *testing.T) {
	_, err := Resolve(Kind("oracle"))
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDriver)
}

func TestRegistered(t *testing.T) {
	drivers := []string{"pgx", "mysql", "sqlite3"}
	assert.True(t, registered("pgx", drivers))
	assert.False(t, registered("duckdb", drivers))
	assert.False(t, registered("pgx", nil))
}

func TestKindEmbedded(t *testing.T) {
	assert.True(t, SQLite.Embedded())
	assert.True(t, DuckDB.Embedded())
	assert.False(t, Postgres.Embedded())
	assert.False(t, MySQL.Embedded())
	assert.False(t, SQLServer.Embedded())
}

func TestFactoryConnect_SQLiteInMemory(t *testing.T) {
	d, err := Resolve(SQLite)
	require.NoError(t, err)

	factory := d.Factory(Target{Path: ":memory:"})
	conn, err := factory.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.PingContext(context.Background()))

	rows, err := conn.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	defer rows.Close()
	assert.True(t, rows.Next())
}
