package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/pkg/enums"
)

// EscrowPayment records the non-refundable entry fee a user paid to bid on a
// listing. Created before any bid is accepted; the settlement job closes it
// out exactly once for losers and never mutates it again.
type EscrowPayment struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PayerID   uuid.UUID `gorm:"column:payer_id;type:uuid;not null;uniqueIndex:idx_escrow_payer_listing"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null;uniqueIndex:idx_escrow_payer_listing"`

	AmountCents int64              `gorm:"column:amount_cents;not null"`
	Status      enums.EscrowStatus `gorm:"column:status;type:escrow_status;not null;default:'pending'"`

	RefundAmountCents int64              `gorm:"column:refund_amount_cents;not null;default:0"`
	RefundStatus      enums.RefundStatus `gorm:"column:refund_status;type:refund_status;not null;default:'pending'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
