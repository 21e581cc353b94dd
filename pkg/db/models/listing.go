package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/pkg/enums"
)

// Listing represents a property listing put up for auction.
//
// CurrentHighestBidCents and CurrentHighestBidderID are set and cleared
// together, only ever through the conditional-write commit in the auction
// repository; the amount is monotonically non-decreasing for the lifetime of
// one auction.
type Listing struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID uuid.UUID `gorm:"column:owner_id;type:uuid;not null"`
	Title   string    `gorm:"column:title;not null"`

	IsAuction       bool  `gorm:"column:is_auction;not null;default:false"`
	BasePriceCents  int64 `gorm:"column:base_price_cents;not null"`
	AuctionStepCents int64 `gorm:"column:auction_step_cents;not null;default:1"`

	AuctionStartsAt *time.Time `gorm:"column:auction_starts_at"`
	AuctionEndsAt   *time.Time `gorm:"column:auction_ends_at"`
	Extended        bool       `gorm:"column:extended;not null;default:false"`

	CurrentHighestBidCents int64      `gorm:"column:current_highest_bid_cents;not null;default:0"`
	CurrentHighestBidderID *uuid.UUID `gorm:"column:current_highest_bidder_id;type:uuid"`

	// AutoBidLock is the per-listing advisory lock for the proxy resolver.
	// It lives on the row so concurrent instances exclude each other.
	AutoBidLock bool `gorm:"column:auto_bid_lock;not null;default:false"`

	Status enums.ListingStatus `gorm:"column:status;type:listing_status;not null;default:'draft'"`
	// ProcessingStartedAt stamps the settlement claim; a claim older than the
	// lease TTL is re-claimable by the next scan.
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at"`

	SoldTo *uuid.UUID `gorm:"column:sold_to;type:uuid"`
	SoldAt *time.Time `gorm:"column:sold_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Biddable reports whether the listing accepts bids at the given instant.
func (l *Listing) Biddable(now time.Time) bool {
	if !l.IsAuction || l.Status != enums.ListingStatusPublished {
		return false
	}
	if l.AuctionStartsAt == nil || l.AuctionEndsAt == nil {
		return false
	}
	return !now.Before(*l.AuctionStartsAt) && !now.After(*l.AuctionEndsAt)
}
