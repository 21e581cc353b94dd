package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
)

// Repository exposes the settlement scan and finalization writes. The claim
// is the same optimistic conditional-write pattern the bidding path uses:
// whichever run flips the row to processing owns it for the lease.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// FindExpired returns auction listings past their close time that are
	// either still open or stuck in processing beyond the lease TTL.
	FindExpired(ctx context.Context, now time.Time, leaseTTL time.Duration) ([]models.Listing, error)

	// Claim transitions one listing to processing, stamping the lease. It
	// reports false when another run claimed the row first (or its lease
	// has not yet expired).
	Claim(ctx context.Context, listingID uuid.UUID, now time.Time, leaseTTL time.Duration) (bool, error)

	// FinalizeClosed ends a no-sale auction.
	FinalizeClosed(ctx context.Context, listingID uuid.UUID, now time.Time) error

	// FinalizeOwned records the winner and ends a sold auction.
	FinalizeOwned(ctx context.Context, listingID, winnerID uuid.UUID, now time.Time) error

	FindActiveBids(ctx context.Context, listingID uuid.UUID) ([]models.Bid, error)
	UpdateBidStatus(ctx context.Context, bidID uuid.UUID, status enums.BidStatus) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindExpired(ctx context.Context, now time.Time, leaseTTL time.Duration) ([]models.Listing, error) {
	var listings []models.Listing
	err := r.db.WithContext(ctx).
		Where("is_auction = TRUE AND auction_ends_at < ?", now).
		Where(
			r.db.Where("status IN ?", []enums.ListingStatus{enums.ListingStatusDraft, enums.ListingStatusPublished}).
				Or("status = ? AND processing_started_at < ?", enums.ListingStatusProcessing, now.Add(-leaseTTL)),
		).
		Order("auction_ends_at ASC").
		Find(&listings).Error
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func (r *repositoryImpl) Claim(ctx context.Context, listingID uuid.UUID, now time.Time, leaseTTL time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Where(
			r.db.Where("status IN ?", []enums.ListingStatus{enums.ListingStatusDraft, enums.ListingStatusPublished}).
				Or("status = ? AND processing_started_at < ?", enums.ListingStatusProcessing, now.Add(-leaseTTL)),
		).
		UpdateColumns(map[string]any{
			"status":                enums.ListingStatusProcessing,
			"processing_started_at": now,
			"updated_at":            now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) FinalizeClosed(ctx context.Context, listingID uuid.UUID, now time.Time) error {
	return r.finalize(ctx, listingID, map[string]any{
		"status":                enums.ListingStatusClosed,
		"processing_started_at": nil,
		"updated_at":            now,
	})
}

func (r *repositoryImpl) FinalizeOwned(ctx context.Context, listingID, winnerID uuid.UUID, now time.Time) error {
	return r.finalize(ctx, listingID, map[string]any{
		"status":                enums.ListingStatusOwned,
		"sold_to":               winnerID,
		"sold_at":               now,
		"processing_started_at": nil,
		"updated_at":            now,
	})
}

func (r *repositoryImpl) finalize(ctx context.Context, listingID uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND status = ?", listingID, enums.ListingStatusProcessing).
		UpdateColumns(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("listing left processing state before finalize")
	}
	return nil
}

func (r *repositoryImpl) FindActiveBids(ctx context.Context, listingID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND status = ?", listingID, enums.BidStatusActive).
		Order("amount_cents DESC").
		Find(&bids).Error
	if err != nil {
		return nil, err
	}
	return bids, nil
}

func (r *repositoryImpl) UpdateBidStatus(ctx context.Context, bidID uuid.UUID, status enums.BidStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("id = ?", bidID).
		UpdateColumn("status", status).Error
}
