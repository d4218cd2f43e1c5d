package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDeclaresUniqueConstraints(t *testing.T) {
	ddl := Schema()
	assert.Contains(t, ddl, "uq_inscripcion_usuario_evento UNIQUE (id_usuario, id_evento)")
	assert.Contains(t, ddl, "uq_pago_inscripcion UNIQUE (id_inscripcion)")
	assert.Contains(t, ddl, "referencia_externa VARCHAR(64)")
	assert.Contains(t, ddl, "ALTER TABLE inscripcion ADD COLUMN IF NOT EXISTS monto")
}

func TestEnsureSchemaCommits(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(Schema()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, EnsureSchema(context.Background(), sqlx.NewDb(db, "postgres")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(Schema()).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = EnsureSchema(context.Background(), sqlx.NewDb(db, "postgres"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}
