package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
)

// Resolver runs the proxy bidding war after every committed bid: while an
// eligible auto-bid ceiling can beat the current price, it commits synthetic
// bids one increment at a time through the same conditional write manual bids
// use.
//
// Mutual exclusion per listing rides on the auto_bid_lock column so
// concurrent instances triggering on the same listing exclude each other.
type Resolver struct {
	repo        Repository
	extender    *Extender
	broadcaster realtime.Broadcaster
	notifier    notify.Service
	cfg         config.AuctionConfig
	logg        *logger.Logger
	metrics     *metrics.AuctionMetrics
}

// NewResolver wires the auto-bid resolver.
func NewResolver(
	repo Repository,
	extender *Extender,
	broadcaster realtime.Broadcaster,
	notifier notify.Service,
	cfg config.AuctionConfig,
	logg *logger.Logger,
	m *metrics.AuctionMetrics,
) (*Resolver, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "auction repository required")
	}
	if extender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "extender required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if cfg.AutoBidMaxRounds <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "auto-bid round cap must be positive")
	}
	return &Resolver{
		repo:        repo,
		extender:    extender,
		broadcaster: broadcaster,
		notifier:    notifier,
		cfg:         cfg,
		logg:        logg,
		metrics:     m,
	}, nil
}

// Resolve drives proxy bidding on one listing until no eligible ceiling
// remains or the round cap is hit. When another resolution loop already holds
// the listing's lock this is a no-op; the running loop re-reads state every
// round and will pick up whatever triggered this call.
func (r *Resolver) Resolve(ctx context.Context, listingID uuid.UUID) error {
	if listingID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	ctx = r.logg.WithListingID(ctx, listingID.String())

	acquired, err := r.repo.TryAcquireAutoBidLock(ctx, listingID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire auto-bid lock")
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := r.repo.ReleaseAutoBidLock(context.WithoutCancel(ctx), listingID); err != nil {
			r.logg.Error(ctx, "release auto-bid lock", err)
		}
	}()

	rounds := 0
	var lastListing *models.Listing
	for rounds < r.cfg.AutoBidMaxRounds {
		listing, err := r.repo.FindListing(ctx, listingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-read listing")
		}
		if listing == nil || !listing.Biddable(time.Now().UTC()) {
			break
		}
		lastListing = listing

		candidate := listing.BasePriceCents
		if listing.CurrentHighestBidCents > 0 {
			candidate = listing.CurrentHighestBidCents + listing.AuctionStepCents
		}

		proxy, err := r.repo.FindBestProxy(ctx, listingID, listing.CurrentHighestBidderID, listing.CurrentHighestBidCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select best proxy")
		}
		if proxy == nil {
			break
		}

		amount := candidate
		if proxy.AutoBidMaxCents < amount {
			amount = proxy.AutoBidMaxCents
		}
		if amount < listing.BasePriceCents {
			amount = listing.BasePriceCents
		}

		rounds++
		committed, err := r.repo.CommitHighestBid(ctx, listingID, proxy.BidderID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit synthetic bid")
		}
		if !committed {
			// A concurrent manual bid beat this round to the punch.
			// Loop again from the re-read, not an error.
			continue
		}

		if err := r.repo.TouchBidAmount(ctx, proxy.ID, amount); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update proxy bid")
		}

		r.broadcastSyntheticBid(ctx, listingID, proxy.BidderID, amount)
		if _, err := r.extender.Apply(ctx, listingID); err != nil {
			r.logg.Error(ctx, "anti-sniping extension", err)
		}

		if r.cfg.AutoBidRoundDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.AutoBidRoundDelay):
			}
		}
	}

	r.metrics.ObserveAutoBidRounds(rounds)
	if rounds >= r.cfg.AutoBidMaxRounds {
		r.exhausted(ctx, listingID, lastListing)
	}
	return nil
}

func (r *Resolver) broadcastSyntheticBid(ctx context.Context, listingID, bidderID uuid.UUID, amountCents int64) {
	if r.broadcaster == nil {
		return
	}
	payload := realtime.NewBidPayload{
		AmountCents: amountCents,
		BidderID:    bidderID,
		IsAutoBid:   true,
		PlacedAt:    time.Now().UTC(),
	}
	if user, err := r.repo.FindUser(ctx, bidderID); err == nil && user != nil {
		payload.BidderName = user.DisplayName
	}
	event, err := realtime.NewEvent(realtime.EventNewBid, listingID, payload)
	if err == nil {
		err = r.broadcaster.Broadcast(ctx, event)
	}
	if err != nil {
		r.logg.Error(ctx, "broadcast auto-bid", err)
	}
}

// exhausted handles the round-cap safety valve: warn, tell the listing
// owner, and leave the auction in whatever state the last round committed.
// The triggering bid has already succeeded and must not be failed here.
func (r *Resolver) exhausted(ctx context.Context, listingID uuid.UUID, listing *models.Listing) {
	r.logg.Warn(ctx, "auto-bid resolution hit the round cap")
	if r.notifier == nil || listing == nil {
		return
	}
	_, err := r.notifier.Notify(ctx, notify.NotifyInput{
		UserID:  listing.OwnerID,
		Type:    enums.NotificationTypeAuctionWarning,
		Title:   "Auto-bidding paused on your auction",
		Message: fmt.Sprintf("Proxy bidding on %q stopped after %d rounds without settling. Bidding remains open.", listing.Title, r.cfg.AutoBidMaxRounds),
	})
	if err != nil {
		r.logg.Error(ctx, "notify listing owner", err)
	}
}
