package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent     UserRole = "EST"
	RoleTeacher     UserRole = "DOC"
	RoleResponsible UserRole = "RES"
	RoleAdmin       UserRole = "ADM"
)

// Valid reports whether the role is one of the known codes.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleResponsible, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role may review payments and manage events.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin || r == RoleResponsible
}

// UserStatus flags whether an account may sign in.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACT"
	UserStatusInactive UserStatus = "INA"
)

// User represents an application user stored in the usuario table.
type User struct {
	ID           int64      `db:"id" json:"id"`
	FirstName    string     `db:"nombre" json:"nombre"`
	LastName     string     `db:"apellido" json:"apellido"`
	Email        string     `db:"correo" json:"correo"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"rol" json:"rol"`
	Status       UserStatus `db:"estado" json:"estado"`
	CreatedAt    time.Time  `db:"creado_en" json:"creadoEn"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Active reports whether the account may sign in.
func (u User) Active() bool {
	return u.Status == UserStatusActive
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Status   *UserStatus
	Search   string
	Page     int
	PageSize int
}

// CreateUserRequest registers a new account.
type CreateUserRequest struct {
	FirstName string   `json:"nombre" validate:"required,max=100"`
	LastName  string   `json:"apellido" validate:"required,max=100"`
	Email     string   `json:"correo" validate:"required,email,max=150"`
	Password  string   `json:"password" validate:"required,min=8,max=72"`
	Role      UserRole `json:"rol" validate:"omitempty,oneof=EST DOC RES ADM"`
}

// UpdateUserStatusRequest activates or deactivates an account.
type UpdateUserStatusRequest struct {
	Status UserStatus `json:"estado" validate:"required,oneof=ACT INA"`
}
