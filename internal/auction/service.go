package auction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/internal/escrow"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
)

// Debouncer is the slice of the redis client the bid debounce needs. A nil
// debouncer disables the debounce.
type Debouncer interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DebounceKey(listingID, bidderID string) string
}

// Service is the live bidding entry point.
type Service interface {
	PlaceBid(ctx context.Context, input PlaceBidInput) (*PlaceBidResult, error)
	Snapshot(ctx context.Context, listingID uuid.UUID) (*Snapshot, error)
}

// PlaceBidInput carries one bid submission. AutoBidMaxCents above the bid
// amount registers (or raises) the bidder's proxy ceiling in the same call.
type PlaceBidInput struct {
	ListingID       uuid.UUID
	BidderID        uuid.UUID
	AmountCents     int64
	AutoBidMaxCents int64
}

// PlaceBidResult reports the outcome of an accepted or debounced bid.
// Rejections surface as coded errors instead.
type PlaceBidResult struct {
	Accepted        bool       `json:"accepted"`
	Debounced       bool       `json:"debounced,omitempty"`
	NewHighestCents int64      `json:"new_highest_cents,omitempty"`
	Extended        bool       `json:"extended,omitempty"`
	NewEndTime      *time.Time `json:"new_end_time,omitempty"`
}

// Snapshot is the read-model of one live auction.
type Snapshot struct {
	ListingID              uuid.UUID           `json:"listing_id"`
	Title                  string              `json:"title"`
	Status                 enums.ListingStatus `json:"status"`
	BasePriceCents         int64               `json:"base_price_cents"`
	AuctionStepCents       int64               `json:"auction_step_cents"`
	CurrentHighestBidCents int64               `json:"current_highest_bid_cents"`
	CurrentHighestBidderID *uuid.UUID          `json:"current_highest_bidder_id,omitempty"`
	AuctionStartsAt        *time.Time          `json:"auction_starts_at,omitempty"`
	AuctionEndsAt          *time.Time          `json:"auction_ends_at,omitempty"`
	Extended               bool                `json:"extended"`
}

type service struct {
	repo        Repository
	escrow      escrow.Service
	extender    *Extender
	resolver    *Resolver
	broadcaster realtime.Broadcaster
	debounce    Debouncer
	cfg         config.AuctionConfig
	logg        *logger.Logger
	metrics     *metrics.AuctionMetrics
}

// NewService wires the bid acceptance protocol.
func NewService(
	repo Repository,
	escrowSvc escrow.Service,
	extender *Extender,
	resolver *Resolver,
	broadcaster realtime.Broadcaster,
	debounce Debouncer,
	cfg config.AuctionConfig,
	logg *logger.Logger,
	m *metrics.AuctionMetrics,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "auction repository required")
	}
	if escrowSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow service required")
	}
	if extender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "extender required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:        repo,
		escrow:      escrowSvc,
		extender:    extender,
		resolver:    resolver,
		broadcaster: broadcaster,
		debounce:    debounce,
		cfg:         cfg,
		logg:        logg,
		metrics:     m,
	}, nil
}

// PlaceBid validates, debounces, and atomically commits a manual bid, then
// fans out the side effects. The preconditions run in a fixed order and each
// rejection carries its own error code.
func (s *service) PlaceBid(ctx context.Context, input PlaceBidInput) (*PlaceBidResult, error) {
	ctx = s.logg.WithListingID(ctx, input.ListingID.String())
	ctx = s.logg.WithBidderID(ctx, input.BidderID.String())

	if input.ListingID == uuid.Nil {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeInvalidAuction, "listing id required"))
	}
	if input.BidderID == uuid.Nil {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeUnauthorized, "bidder not authenticated"))
	}
	if input.AmountCents <= 0 {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeInvalidAuction, "bid amount must be positive"))
	}

	listing, err := s.repo.FindListing(ctx, input.ListingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if listing == nil || !listing.IsAuction {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeInvalidAuction, "listing is not an auction"))
	}

	now := time.Now().UTC()
	if listing.AuctionStartsAt == nil || now.Before(*listing.AuctionStartsAt) || listing.Status == enums.ListingStatusDraft {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeAuctionNotStarted, "auction has not started"))
	}
	if listing.AuctionEndsAt == nil || now.After(*listing.AuctionEndsAt) || listing.Status != enums.ListingStatusPublished {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeAuctionEnded, "auction has ended"))
	}

	if input.AmountCents <= listing.CurrentHighestBidCents {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeBidTooLow, "bid must exceed the current highest bid"))
	}
	if listing.CurrentHighestBidCents == 0 && input.AmountCents < listing.BasePriceCents {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeBidTooLow, "first bid must meet the base price"))
	}

	if input.BidderID == listing.OwnerID {
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner cannot bid on own listing"))
	}

	existing, err := s.repo.FindBid(ctx, input.ListingID, input.BidderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load standing bid")
	}
	escrowPaymentID := uuid.Nil
	if existing != nil {
		escrowPaymentID = existing.EscrowPaymentID
	}
	if escrowPaymentID == uuid.Nil {
		payment, err := s.escrow.FindSuccessfulPayment(ctx, input.ListingID, input.BidderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check entry fee")
		}
		if payment == nil {
			return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodePaymentRequired, "entry fee payment required"))
		}
		escrowPaymentID = payment.ID
	}

	if debounced, err := s.debounced(ctx, input); err != nil {
		return nil, err
	} else if debounced {
		s.metrics.IncBidDebounced()
		return &PlaceBidResult{Accepted: false, Debounced: true}, nil
	}

	committed, err := s.repo.CommitHighestBid(ctx, input.ListingID, input.BidderID, input.AmountCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit highest bid")
	}
	if !committed {
		// Another bid won the race after validation. Same code as a stale
		// amount; the caller should not retry unchanged.
		return nil, s.reject(ctx, input, pkgerrors.New(pkgerrors.CodeBidTooLow, "a higher bid was committed first"))
	}

	bid := &models.Bid{
		ListingID:       input.ListingID,
		BidderID:        input.BidderID,
		AmountCents:     input.AmountCents,
		Status:          enums.BidStatusActive,
		EscrowPaymentID: escrowPaymentID,
	}
	if input.AutoBidMaxCents > input.AmountCents {
		bid.IsAutoBid = true
		bid.AutoBidMaxCents = input.AutoBidMaxCents
	} else if existing != nil && existing.IsAutoBid && existing.AutoBidMaxCents > input.AmountCents {
		bid.IsAutoBid = true
		bid.AutoBidMaxCents = existing.AutoBidMaxCents
	}
	if err := s.repo.UpsertBid(ctx, bid); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert bid")
	}

	s.metrics.IncBidAccepted()
	s.logg.Info(ctx, "bid accepted")
	s.broadcastNewBid(ctx, input.ListingID, input.BidderID, input.AmountCents, false)

	result := &PlaceBidResult{Accepted: true, NewHighestCents: input.AmountCents}
	if newEnd, err := s.extender.Apply(ctx, input.ListingID); err != nil {
		s.logg.Error(ctx, "anti-sniping extension", err)
	} else if newEnd != nil {
		result.Extended = true
		result.NewEndTime = newEnd
	}

	if s.resolver != nil {
		if err := s.resolver.Resolve(ctx, input.ListingID); err != nil {
			// The manual bid already committed; resolution problems are the
			// resolver's to report, not the bidder's.
			s.logg.Error(ctx, "auto-bid resolution", err)
		}
	}
	return result, nil
}

func (s *service) Snapshot(ctx context.Context, listingID uuid.UUID) (*Snapshot, error) {
	if listingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	listing, err := s.repo.FindListing(ctx, listingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if listing == nil || !listing.IsAuction {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
	}
	return &Snapshot{
		ListingID:              listing.ID,
		Title:                  listing.Title,
		Status:                 listing.Status,
		BasePriceCents:         listing.BasePriceCents,
		AuctionStepCents:       listing.AuctionStepCents,
		CurrentHighestBidCents: listing.CurrentHighestBidCents,
		CurrentHighestBidderID: listing.CurrentHighestBidderID,
		AuctionStartsAt:        listing.AuctionStartsAt,
		AuctionEndsAt:          listing.AuctionEndsAt,
		Extended:               listing.Extended,
	}, nil
}

// debounced drops a bidder's repeat submissions inside the configured window.
// The key is redis-scoped to (listing, bidder) so it holds across instances.
func (s *service) debounced(ctx context.Context, input PlaceBidInput) (bool, error) {
	if s.debounce == nil || s.cfg.BidDebounce <= 0 {
		return false, nil
	}
	key := s.debounce.DebounceKey(input.ListingID.String(), input.BidderID.String())
	acquired, err := s.debounce.SetNX(ctx, key, 1, s.cfg.BidDebounce)
	if err != nil {
		// Losing the debounce is better than rejecting a valid bid.
		s.logg.Error(ctx, "bid debounce", err)
		return false, nil
	}
	return !acquired, nil
}

func (s *service) reject(ctx context.Context, input PlaceBidInput, err error) error {
	code := string(pkgerrors.As(err).Code())
	s.metrics.IncBidRejected(code)

	if s.broadcaster != nil && input.ListingID != uuid.Nil && input.BidderID != uuid.Nil {
		event, buildErr := realtime.NewEvent(realtime.EventBidError, input.ListingID, realtime.BidErrorPayload{
			BidderID: input.BidderID,
			Code:     code,
			Message:  err.Error(),
		})
		if buildErr == nil {
			buildErr = s.broadcaster.Broadcast(ctx, event)
		}
		if buildErr != nil {
			s.logg.Error(ctx, "broadcast bid_error", buildErr)
		}
	}
	return err
}

func (s *service) broadcastNewBid(ctx context.Context, listingID, bidderID uuid.UUID, amountCents int64, isAutoBid bool) {
	if s.broadcaster == nil {
		return
	}
	payload := realtime.NewBidPayload{
		AmountCents: amountCents,
		BidderID:    bidderID,
		IsAutoBid:   isAutoBid,
		PlacedAt:    time.Now().UTC(),
	}
	if user, err := s.repo.FindUser(ctx, bidderID); err == nil && user != nil {
		payload.BidderName = user.DisplayName
	}
	event, err := realtime.NewEvent(realtime.EventNewBid, listingID, payload)
	if err == nil {
		err = s.broadcaster.Broadcast(ctx, event)
	}
	if err != nil {
		s.logg.Error(ctx, "broadcast new_bid", err)
	}
}
