package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
)

// Service exposes the funds-transfer primitive the settlement job uses. A
// credit mutates the balance and appends the ledger entry inside whatever
// transactional scope the repository is bound to.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Credit(ctx context.Context, input CreditInput) (*models.WalletLedgerEntry, error)
}

// CreditInput captures one wallet credit. PaymentID is the idempotency key:
// a credit with a payment id that already has a ledger entry is a no-op.
type CreditInput struct {
	UserID      uuid.UUID
	AmountCents int64
	Source      enums.LedgerSource
	PaymentID   *uuid.UUID
}

type service struct {
	repo Repository
}

// NewService wires a wallet service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.WalletLedgerEntry, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger source")
	}

	if input.PaymentID != nil {
		exists, err := s.repo.HasLedgerEntryForPayment(ctx, *input.PaymentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ledger idempotency key")
		}
		if exists {
			return nil, nil
		}
	}

	wallet, err := s.repo.IncrementBalance(ctx, input.UserID, input.AmountCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit wallet balance")
	}

	entry := &models.WalletLedgerEntry{
		WalletID:          wallet.ID,
		UserID:            input.UserID,
		AmountCents:       input.AmountCents,
		Direction:         enums.LedgerDirectionCredit,
		Source:            input.Source,
		PaymentID:         input.PaymentID,
		BalanceAfterCents: wallet.BalanceCents,
	}
	if err := s.repo.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	return entry, nil
}
