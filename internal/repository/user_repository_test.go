package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/eventos-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "nombre", "apellido", "correo", "password_hash", "rol", "estado", "creado_en"}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow(7, "Ana", "Quispe", "ana@uni.edu", "hash", string(models.RoleStudent), string(models.UserStatusActive), now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, nombre, apellido, correo, password_hash, rol, estado, creado_en FROM usuario WHERE LOWER(correo) = LOWER($1) LIMIT 1")).
		WithArgs("ana@uni.edu").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "ana@uni.edu")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "Ana Quispe", user.FullName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM usuario WHERE id = \\$1").WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	role := models.RoleStudent
	listRows := sqlmock.NewRows(userRowColumns).
		AddRow(1, "Ana", "Quispe", "ana@uni.edu", "hash", string(models.RoleStudent), "ACT", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, nombre, apellido, correo, password_hash, rol, estado, creado_en FROM usuario WHERE (rol = $1 AND (LOWER(correo) LIKE $2 OR LOWER(nombre || ' ' || apellido) LIKE $3)) ORDER BY creado_en DESC, id DESC LIMIT 20 OFFSET 0")).
		WithArgs(role, "%ana%", "%ana%").
		WillReturnRows(listRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM usuario WHERE (rol = $1")).
		WithArgs(role, "%ana%", "%ana%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role, Search: " Ana "})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserMapsDuplicateEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("INSERT INTO usuario").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_usuario_correo"})

	err := repo.Create(context.Background(), &models.User{Email: "ana@uni.edu"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserReturnsGeneratedID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO usuario").
		WithArgs("Ana", "Quispe", "ana@uni.edu", "hash", models.RoleStudent, models.UserStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "creado_en"}).AddRow(12, now))

	user := &models.User{FirstName: "Ana", LastName: "Quispe", Email: "ana@uni.edu", PasswordHash: "hash", Role: models.RoleStudent, Status: models.UserStatusActive}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.Equal(t, int64(12), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserStatusMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE usuario SET estado = $2 WHERE id = $1")).
		WithArgs(int64(5), models.UserStatusInactive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), 5, models.UserStatusInactive)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
