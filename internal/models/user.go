package models

import "time"

// Role is the coarse operator type carried in issued tokens.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Operator is an authenticated back-office user.
type Operator struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Username  string    `gorm:"uniqueIndex;size:255;not null" json:"username"`
	Password  string    `gorm:"size:255;not null" json:"-"` // bcrypt hash, never exposed in JSON
	Role      Role      `gorm:"size:20;not null;default:'client'" json:"role"`
}

// IsAdmin reports whether the operator has the admin role.
func (o *Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}
