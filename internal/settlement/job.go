package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/internal/cron"
	"github.com/openlots/openlots-backend/internal/escrow"
	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/internal/wallet"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db"
	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
)

// JobParams configure the auction settlement job.
type JobParams struct {
	Logger      *logger.Logger
	DB          db.TxRunner
	Repo        Repository
	EscrowRepo  escrow.Repository
	Wallet      wallet.Service
	Notifier    notify.Service
	Broadcaster realtime.Broadcaster
	Config      config.SettlementConfig
	Metrics     *metrics.AuctionMetrics
}

type job struct {
	logg        *logger.Logger
	db          db.TxRunner
	repo        Repository
	escrowRepo  escrow.Repository
	wallet      wallet.Service
	notifier    notify.Service
	broadcaster realtime.Broadcaster
	cfg         config.SettlementConfig
	metrics     *metrics.AuctionMetrics
	now         func() time.Time
}

// NewJob builds the cron job that closes expired auctions, declares winners,
// and refunds losers' escrow exactly once.
func NewJob(params JobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if params.EscrowRepo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	cfg := params.Config
	if cfg.RefundPercent <= 0 || cfg.RefundPercent > 1 {
		return nil, fmt.Errorf("refund percent must be in (0,1]")
	}
	if cfg.ProcessingLeaseTTL <= 0 {
		cfg.ProcessingLeaseTTL = 5 * time.Minute
	}
	return &job{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repo,
		escrowRepo:  params.EscrowRepo,
		wallet:      params.Wallet,
		notifier:    params.Notifier,
		broadcaster: params.Broadcaster,
		cfg:         cfg,
		metrics:     params.Metrics,
		now:         time.Now,
	}, nil
}

func (j *job) Name() string { return "auction-settlement" }

// Run settles every expired auction found by the scan. Listings are
// independent units of work; one listing's failure is collected and the scan
// moves on.
func (j *job) Run(ctx context.Context) error {
	now := j.now().UTC()
	expired, err := j.repo.FindExpired(ctx, now, j.cfg.ProcessingLeaseTTL)
	if err != nil {
		return fmt.Errorf("scan expired auctions: %w", err)
	}

	var errs []error
	for _, listing := range expired {
		if err := j.settleListing(ctx, listing); err != nil {
			errs = append(errs, fmt.Errorf("settle listing %s: %w", listing.ID, err))
		}
	}
	return multierr.Combine(errs...)
}

func (j *job) settleListing(ctx context.Context, listing models.Listing) error {
	ctx = j.logg.WithListingID(ctx, listing.ID.String())
	now := j.now().UTC()

	claimed, err := j.repo.Claim(ctx, listing.ID, now, j.cfg.ProcessingLeaseTTL)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// Another run owns this listing; its lease will expire if it dies.
		return nil
	}

	if listing.CurrentHighestBidderID == nil {
		if err := j.repo.FinalizeClosed(ctx, listing.ID, now); err != nil {
			return fmt.Errorf("finalize closed: %w", err)
		}
		j.logg.Info(ctx, "auction closed with no sale")
		j.broadcastEnded(ctx, listing.ID, nil, 0)
		return nil
	}

	winnerID := *listing.CurrentHighestBidderID
	if err := j.repo.FinalizeOwned(ctx, listing.ID, winnerID, now); err != nil {
		return fmt.Errorf("finalize owned: %w", err)
	}

	bids, err := j.repo.FindActiveBids(ctx, listing.ID)
	if err != nil {
		return fmt.Errorf("load active bids: %w", err)
	}

	var errs []error
	for _, bid := range bids {
		if bid.BidderID == winnerID {
			if err := j.repo.UpdateBidStatus(ctx, bid.ID, enums.BidStatusWon); err != nil {
				errs = append(errs, fmt.Errorf("mark winning bid: %w", err))
			}
			continue
		}
		if err := j.refundLoser(ctx, listing, bid); err != nil {
			j.metrics.IncRefund("failed")
			errs = append(errs, fmt.Errorf("refund bidder %s: %w", bid.BidderID, err))
		}
	}

	j.notifyWinner(ctx, listing, winnerID)
	j.logg.Info(ctx, "auction settled")
	j.broadcastEnded(ctx, listing.ID, &winnerID, listing.CurrentHighestBidCents)
	return multierr.Combine(errs...)
}

// refundLoser runs one loser's refund in its own transaction. It is
// idempotent two ways: the escrow row's refund_status conditional update and
// the ledger entry's payment-id uniqueness each block a double credit.
func (j *job) refundLoser(ctx context.Context, listing models.Listing, bid models.Bid) error {
	ctx = j.logg.WithBidderID(ctx, bid.BidderID.String())

	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		escrowRepo := j.escrowRepo.WithTx(tx)

		payment, err := escrowRepo.FindByID(ctx, bid.EscrowPaymentID)
		if err != nil {
			return fmt.Errorf("load escrow payment: %w", err)
		}
		if payment == nil {
			return fmt.Errorf("escrow payment %s missing", bid.EscrowPaymentID)
		}
		if payment.RefundStatus == enums.RefundStatusCompleted {
			j.metrics.IncRefund("skipped")
			return j.repo.WithTx(tx).UpdateBidStatus(ctx, bid.ID, enums.BidStatusOutbid)
		}

		refundCents := refundAmountCents(payment.AmountCents, j.cfg.RefundPercent)
		paymentID := payment.ID
		entry, err := j.wallet.WithTx(tx).Credit(ctx, wallet.CreditInput{
			UserID:      bid.BidderID,
			AmountCents: refundCents,
			Source:      enums.LedgerSourceEscrowRefund,
			PaymentID:   &paymentID,
		})
		if err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		if entry == nil {
			// Ledger already holds a credit for this payment id; a prior
			// run crashed between the credit and the escrow update.
			j.logg.Warn(ctx, "refund credit already ledgered; completing escrow state only")
		}

		marked, err := escrowRepo.MarkRefunded(ctx, payment.ID, refundCents, j.now().UTC())
		if err != nil {
			return fmt.Errorf("mark escrow refunded: %w", err)
		}
		if !marked {
			j.metrics.IncRefund("skipped")
			return j.repo.WithTx(tx).UpdateBidStatus(ctx, bid.ID, enums.BidStatusOutbid)
		}

		if err := j.repo.WithTx(tx).UpdateBidStatus(ctx, bid.ID, enums.BidStatusOutbid); err != nil {
			return fmt.Errorf("mark bid outbid: %w", err)
		}

		j.metrics.IncRefund("completed")
		j.notifyRefund(ctx, listing, bid.BidderID, refundCents)
		return nil
	})
}

// refundAmountCents rounds half-up on the decimal value, matching how the
// refund share is quoted to bidders.
func refundAmountCents(amountCents int64, percent float64) int64 {
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromFloat(percent)).
		Round(0).
		IntPart()
}

func (j *job) notifyWinner(ctx context.Context, listing models.Listing, winnerID uuid.UUID) {
	if j.notifier == nil {
		return
	}
	_, err := j.notifier.Notify(ctx, notify.NotifyInput{
		UserID:  winnerID,
		Type:    enums.NotificationTypeAuctionWon,
		Title:   "You won the auction",
		Message: fmt.Sprintf("Your bid of %d won %q.", listing.CurrentHighestBidCents, listing.Title),
	})
	if err != nil {
		j.logg.Error(ctx, "notify winner", err)
	}
}

func (j *job) notifyRefund(ctx context.Context, listing models.Listing, bidderID uuid.UUID, refundCents int64) {
	if j.notifier == nil {
		return
	}
	_, err := j.notifier.Notify(ctx, notify.NotifyInput{
		UserID:  bidderID,
		Type:    enums.NotificationTypeEscrowRefund,
		Title:   "Entry fee partially refunded",
		Message: fmt.Sprintf("The auction for %q has ended. %d was returned to your wallet.", listing.Title, refundCents),
	})
	if err != nil {
		j.logg.Error(ctx, "notify refund", err)
	}
}

func (j *job) broadcastEnded(ctx context.Context, listingID uuid.UUID, winnerID *uuid.UUID, finalPriceCents int64) {
	if j.broadcaster == nil {
		return
	}
	event, err := realtime.NewEvent(realtime.EventAuctionEnded, listingID, realtime.AuctionEndedPayload{
		WinnerID:        winnerID,
		FinalPriceCents: finalPriceCents,
		Sold:            winnerID != nil,
	})
	if err == nil {
		err = j.broadcaster.Broadcast(ctx, event)
	}
	if err != nil {
		j.logg.Error(ctx, "broadcast auction_ended", err)
	}
}
