package models

import "time"

const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Operator is an account allowed to inspect batch runs.
type Operator struct {
	ID        uint      `gorm:"column:id;primaryKey" json:"id"`
	Email     string    `gorm:"column:email;uniqueIndex" json:"email"`
	Password  string    `gorm:"column:password" json:"-"`
	Role      string    `gorm:"column:role;default:operator" json:"role"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Operator) TableName() string { return "operators" }
