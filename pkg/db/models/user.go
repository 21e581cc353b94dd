package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity slice the auction engine needs: credential storage and
// session issuance live in the external auth service.
type User struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DisplayName string    `gorm:"column:display_name;not null"`
	Email       string    `gorm:"column:email;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
