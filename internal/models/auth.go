package models

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"correo" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued session token and user info.
type LoginResponse struct {
	Token     string   `json:"token"`
	ExpiresIn int64    `json:"expiresIn"`
	User      UserInfo `json:"usuario"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       int64    `json:"id"`
	Email    string   `json:"correo"`
	FullName string   `json:"nombreCompleto"`
	Role     UserRole `json:"rol"`
}

// SessionClaims represents the JWT payload for session tokens.
type SessionClaims struct {
	UserID int64    `json:"uid"`
	Role   UserRole `json:"rol"`
	Email  string   `json:"correo"`
	jwt.RegisteredClaims
}

// Actor is the verified identity performing an operation.
type Actor struct {
	UserID int64
	Role   UserRole
}

// Actor extracts the acting identity from the claims.
func (c *SessionClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Role: c.Role}
}

// SubjectID formats the user id for the registered subject claim.
func SubjectID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CanActFor reports whether the actor may operate on resources owned by userID.
func (a Actor) CanActFor(userID int64) bool {
	return a.UserID == userID || a.Role.IsStaff()
}
