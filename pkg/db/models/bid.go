package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/pkg/enums"
)

// Bid is a bidder's current standing offer on one listing, not an append-only
// history row. Exactly one row exists per (listing, bidder); a re-bid updates
// AmountCents in place.
type Bid struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null;uniqueIndex:idx_bids_listing_bidder"`
	BidderID  uuid.UUID `gorm:"column:bidder_id;type:uuid;not null;uniqueIndex:idx_bids_listing_bidder"`

	AmountCents int64 `gorm:"column:amount_cents;not null"`

	IsAutoBid       bool  `gorm:"column:is_auto_bid;not null;default:false"`
	AutoBidMaxCents int64 `gorm:"column:auto_bid_max_cents;not null;default:0"`

	Status enums.BidStatus `gorm:"column:status;type:bid_status;not null;default:'active'"`

	EscrowPaymentID uuid.UUID `gorm:"column:escrow_payment_id;type:uuid;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
