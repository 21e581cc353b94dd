package auction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/pkg/config"
	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
)

// Extender pushes a listing's close time when a bid lands inside the trailing
// anti-sniping window. Each winning bid may extend the clock again; there is
// no cap on total extensions.
type Extender struct {
	repo        Repository
	broadcaster realtime.Broadcaster
	cfg         config.AuctionConfig
	logg        *logger.Logger
	metrics     *metrics.AuctionMetrics
}

// NewExtender wires the anti-sniping extender.
func NewExtender(repo Repository, broadcaster realtime.Broadcaster, cfg config.AuctionConfig, logg *logger.Logger, m *metrics.AuctionMetrics) (*Extender, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "auction repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Extender{
		repo:        repo,
		broadcaster: broadcaster,
		cfg:         cfg,
		logg:        logg,
		metrics:     m,
	}, nil
}

// Apply runs the extension rule once. The conditional update compares and
// shifts the stored auction_ends_at, so a concurrent extension is never
// clobbered. Returns the new close time when an extension applied.
func (e *Extender) Apply(ctx context.Context, listingID uuid.UUID) (*time.Time, error) {
	newEnd, err := e.repo.ExtendEndsAt(ctx, listingID, time.Now().UTC(), e.cfg.LastMinuteWindow, e.cfg.ExtensionTime)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extend auction close time")
	}
	if newEnd == nil {
		return nil, nil
	}

	e.metrics.IncExtension()
	e.logg.Info(e.logg.WithListingID(ctx, listingID.String()), "auction close time extended")

	if e.broadcaster != nil {
		event, err := realtime.NewEvent(realtime.EventAuctionExtended, listingID, realtime.AuctionExtendedPayload{
			NewEndTime: *newEnd,
			ExtendedBy: e.cfg.ExtensionTime.String(),
		})
		if err == nil {
			err = e.broadcaster.Broadcast(ctx, event)
		}
		if err != nil {
			e.logg.Error(ctx, "broadcast auction_extended", err)
		}
	}
	return newEnd, nil
}
