package migrations

import (
	"context"
	"io/fs"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpSkipsAppliedMigrations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := fs.Glob(files, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for i, name := range names {
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(lockKey).WillReturnResult(pgxmock.NewResult("SELECT", 1))
		alreadyApplied := i == 0
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(name).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(alreadyApplied))
		if !alreadyApplied {
			mock.ExpectExec(`.+`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
			mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(name).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mock.ExpectCommit()
	}

	applied, err := Up(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, names[1:], applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedSchemaDefinesOracleFunction(t *testing.T) {
	body, err := files.ReadFile("003_appointments_oracle.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "FUNCTION is_provider_available")
}
