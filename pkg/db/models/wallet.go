package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's platform balance. The balance is mutated only via
// atomic increment statements paired with a ledger entry in the same
// transaction.
type Wallet struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
