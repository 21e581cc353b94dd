package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
)

// Repository manages persistence for escrow entry-fee payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error)
	FindByPayerAndListing(ctx context.Context, payerID, listingID uuid.UUID) (*models.EscrowPayment, error)
	// MarkRefunded closes out a loser's payment exactly once: the conditional
	// predicate on refund_status makes a second call a no-op.
	MarkRefunded(ctx context.Context, id uuid.UUID, refundAmountCents int64, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an escrow repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByPayerAndListing(ctx context.Context, payerID, listingID uuid.UUID) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment
	if err := r.db.WithContext(ctx).
		Where("payer_id = ? AND listing_id = ?", payerID, listingID).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundAmountCents int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.EscrowPayment{}).
		Where("id = ? AND refund_status <> ?", id, enums.RefundStatusCompleted).
		Updates(map[string]any{
			"refund_amount_cents": refundAmountCents,
			"refund_status":       enums.RefundStatusCompleted,
			"status":              enums.EscrowStatusRefunded,
			"updated_at":          now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
