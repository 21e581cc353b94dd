package auction

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
)

// Repository exposes the auction engine's persistence primitives. The
// conditional writes here are the only concurrency control the bidding path
// uses; no row locks are held across validation and commit.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	FindBid(ctx context.Context, listingID, bidderID uuid.UUID) (*models.Bid, error)
	UpsertBid(ctx context.Context, bid *models.Bid) error

	// TouchBidAmount rewrites an existing bid row's standing amount. The
	// updated_at bump also pushes the row back in the proxy tie-break order.
	TouchBidAmount(ctx context.Context, bidID uuid.UUID, amountCents int64) error

	// CommitHighestBid performs the atomic highest-bid conditional write.
	// It reports false when the stored highest bid was no longer below
	// amountCents, meaning another bid won the race.
	CommitHighestBid(ctx context.Context, listingID, bidderID uuid.UUID, amountCents int64) (bool, error)

	// ExtendEndsAt pushes auction_ends_at forward by extension when the
	// stored close time falls inside the trailing window. The comparison and
	// the arithmetic both run against the stored value so concurrent
	// extensions stack instead of clobbering each other. Returns the new
	// close time, or nil when no extension applied.
	ExtendEndsAt(ctx context.Context, listingID uuid.UUID, now time.Time, window, extension time.Duration) (*time.Time, error)

	// FindBestProxy returns the single best eligible auto-bid: highest
	// ceiling above aboveCents, earliest-updated on ties, excluding the
	// current leader. Nil when resolution has converged.
	FindBestProxy(ctx context.Context, listingID uuid.UUID, excludeBidder *uuid.UUID, aboveCents int64) (*models.Bid, error)

	TryAcquireAutoBidLock(ctx context.Context, listingID uuid.UUID) (bool, error)
	ReleaseAutoBidLock(ctx context.Context, listingID uuid.UUID) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an auction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repositoryImpl) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) FindBid(ctx context.Context, listingID, bidderID uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	err := r.db.WithContext(ctx).
		First(&bid, "listing_id = ? AND bidder_id = ?", listingID, bidderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repositoryImpl) UpsertBid(ctx context.Context, bid *models.Bid) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "listing_id"}, {Name: "bidder_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"amount_cents",
				"is_auto_bid",
				"auto_bid_max_cents",
				"status",
				"updated_at",
			}),
		}).
		Create(bid).Error
}

func (r *repositoryImpl) TouchBidAmount(ctx context.Context, bidID uuid.UUID, amountCents int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("id = ?", bidID).
		UpdateColumns(map[string]any{
			"amount_cents": amountCents,
			"status":       enums.BidStatusActive,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repositoryImpl) CommitHighestBid(ctx context.Context, listingID, bidderID uuid.UUID, amountCents int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND current_highest_bid_cents < ?", listingID, amountCents).
		UpdateColumns(map[string]any{
			"current_highest_bid_cents": amountCents,
			"current_highest_bidder_id": bidderID,
			"updated_at":                time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) ExtendEndsAt(ctx context.Context, listingID uuid.UUID, now time.Time, window, extension time.Duration) (*time.Time, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND status = ? AND auction_ends_at > ? AND auction_ends_at <= ?",
			listingID, enums.ListingStatusPublished, now, now.Add(window)).
		UpdateColumns(map[string]any{
			"auction_ends_at": gorm.Expr("auction_ends_at + make_interval(secs => ?)", extension.Seconds()),
			"extended":        true,
			"updated_at":      now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	listing, err := r.FindListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil || listing.AuctionEndsAt == nil {
		return nil, nil
	}
	return listing.AuctionEndsAt, nil
}

func (r *repositoryImpl) FindBestProxy(ctx context.Context, listingID uuid.UUID, excludeBidder *uuid.UUID, aboveCents int64) (*models.Bid, error) {
	query := r.db.WithContext(ctx).
		Where("listing_id = ? AND is_auto_bid = TRUE AND status = ? AND auto_bid_max_cents > ?",
			listingID, enums.BidStatusActive, aboveCents)
	if excludeBidder != nil {
		query = query.Where("bidder_id <> ?", *excludeBidder)
	}

	var bid models.Bid
	err := query.Order("auto_bid_max_cents DESC, updated_at ASC").First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repositoryImpl) TryAcquireAutoBidLock(ctx context.Context, listingID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND auto_bid_lock = FALSE", listingID).
		UpdateColumn("auto_bid_lock", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) ReleaseAutoBidLock(ctx context.Context, listingID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		UpdateColumn("auto_bid_lock", false).Error
}
