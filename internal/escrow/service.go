package escrow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
)

// Service is the escrow gate: it answers whether a user has paid the
// non-refundable entry fee for an auction. No side effects.
type Service interface {
	HasPaidEntryFee(ctx context.Context, listingID, userID uuid.UUID) (bool, error)
	FindSuccessfulPayment(ctx context.Context, listingID, userID uuid.UUID) (*models.EscrowPayment, error)
}

type service struct {
	repo Repository
}

// NewService wires the escrow gate with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) HasPaidEntryFee(ctx context.Context, listingID, userID uuid.UUID) (bool, error) {
	payment, err := s.FindSuccessfulPayment(ctx, listingID, userID)
	if err != nil {
		return false, err
	}
	return payment != nil, nil
}

func (s *service) FindSuccessfulPayment(ctx context.Context, listingID, userID uuid.UUID) (*models.EscrowPayment, error) {
	if listingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	payment, err := s.repo.FindByPayerAndListing(ctx, userID, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up escrow payment")
	}
	if payment.Status != enums.EscrowStatusSuccess {
		return nil, nil
	}
	return payment, nil
}
