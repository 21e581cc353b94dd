package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/pkg/db/models"
)

// Repository manages wallet balances and the append-only ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// IncrementBalance applies an atomic balance increment and reads the
	// resulting row back in the same scope.
	IncrementBalance(ctx context.Context, userID uuid.UUID, deltaCents int64) (*models.Wallet, error)
	HasLedgerEntryForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error)
	CreateLedgerEntry(ctx context.Context, entry *models.WalletLedgerEntry) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) IncrementBalance(ctx context.Context, userID uuid.UUID, deltaCents int64) (*models.Wallet, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents + ?", deltaCents))
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindByUserID(ctx, userID)
}

func (r *repository) HasLedgerEntryForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Where("payment_id = ?", paymentID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateLedgerEntry(ctx context.Context, entry *models.WalletLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
