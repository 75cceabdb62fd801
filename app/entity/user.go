package entity

import (
	"database/sql"
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
)

// DefaultRole is assigned to registered and OAuth-created accounts.
const DefaultRole = RoleCustomer

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleVendor, RoleAdmin, RoleUser:
		return true
	}
	return false
}

func ParseRole(value string) (Role, bool) {
	role := Role(value)
	return role, role.Valid()
}

type User struct {
	ID                 uint64
	FirstName          string
	LastName           string
	Email              string
	PasswordHash       string
	Role               Role
	IsActive           bool
	IsOAuthUser        bool
	AvatarURL          sql.NullString
	HashedRefreshToken sql.NullString
	TokenVersion       int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (u *User) HasSession() bool {
	return u.HashedRefreshToken.Valid && u.HashedRefreshToken.String != ""
}

type DeadLetter struct {
	ID          uint64
	JobID       string
	Recipient   string
	Template    string
	PayloadJSON string
	Attempts    int
	LastError   string
	FailedAt    time.Time
}
