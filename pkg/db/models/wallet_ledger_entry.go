package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/pkg/enums"
)

// WalletLedgerEntry is an append-only credit/debit record. PaymentID carries
// the idempotency key (the escrow payment id for refunds); the unique index
// is the second guard against double-crediting a loser.
type WalletLedgerEntry struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID uuid.UUID `gorm:"column:wallet_id;type:uuid;not null"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null"`

	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	Direction   enums.LedgerDirection `gorm:"column:direction;type:ledger_direction;not null"`
	Source      enums.LedgerSource    `gorm:"column:source;type:ledger_source;not null"`

	PaymentID *uuid.UUID `gorm:"column:payment_id;type:uuid;uniqueIndex:idx_ledger_payment,where:payment_id IS NOT NULL"`

	// BalanceAfterCents is the wallet balance read back inside the crediting
	// transaction.
	BalanceAfterCents int64 `gorm:"column:balance_after_cents;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
