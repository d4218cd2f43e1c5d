package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/pkg/dberrors"
)

const userColumns = "id, nombre, apellido, correo, password_hash, rol, estado, creado_en"

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
	sb squirrel.StatementBuilderType
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db, sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM usuario WHERE LOWER(correo) = LOWER($1) LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM usuario WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	where := squirrel.And{}
	if filter.Role != nil {
		where = append(where, squirrel.Eq{"rol": *filter.Role})
	}
	if filter.Status != nil {
		where = append(where, squirrel.Eq{"estado": *filter.Status})
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		where = append(where, squirrel.Or{
			squirrel.Like{"LOWER(correo)": pattern},
			squirrel.Like{"LOWER(nombre || ' ' || apellido)": pattern},
		})
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	listQuery, args, err := applyWhere(r.sb.Select(userColumns).From("usuario"), where).
		OrderBy("creado_en DESC", "id DESC").
		Limit(uint64(size)).Offset(uint64((page - 1) * size)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list users: %w", err)
	}

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery, countArgs, err := applyWhere(r.sb.Select("COUNT(*)").From("usuario"), where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count users: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// Create inserts a new user and fills the generated id and timestamp.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `INSERT INTO usuario (nombre, apellido, correo, password_hash, rol, estado)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, creado_en`
	row := r.db.QueryRowxContext(ctx, query, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.Role, user.Status)
	if err := row.Scan(&user.ID, &user.CreatedAt); err != nil {
		if dberrors.IsUniqueViolation(err, "uq_usuario_correo") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateStatus activates or deactivates an account.
func (r *UserRepository) UpdateStatus(ctx context.Context, id int64, status models.UserStatus) error {
	const query = `UPDATE usuario SET estado = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
