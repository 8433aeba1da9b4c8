package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/app", driverURL("postgres://u:p@localhost:5432/app"))
	require.Equal(t, "pgx5://localhost/app?sslmode=disable", driverURL("postgresql://localhost/app?sslmode=disable"))
	require.Equal(t, "pgx5://already", driverURL("pgx5://already"))
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(MigrationsFS(), "migrations")
	require.NoError(t, err)
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestSchemaDeclaresBillNumberConstraint(t *testing.T) {
	data, err := fs.ReadFile(MigrationsFS(), "migrations/000001_init.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(data), "CONSTRAINT bills_bill_number_key UNIQUE (bill_number)")
	require.Contains(t, string(data), "REFERENCES bundles(id) ON DELETE RESTRICT")
}
