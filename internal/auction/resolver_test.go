package auction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
)

func registerProxy(t *testing.T, fx *fixture, bidder uuid.UUID, amountCents, ceilingCents int64) {
	t.Helper()
	err := fx.repo.UpsertBid(context.Background(), &models.Bid{
		ListingID:       fx.repo.listing.ID,
		BidderID:        bidder,
		AmountCents:     amountCents,
		IsAutoBid:       true,
		AutoBidMaxCents: ceilingCents,
		Status:          enums.BidStatusActive,
		EscrowPaymentID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("register proxy: %v", err)
	}
}

func TestResolve_TwoProxiesConverge(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), nil)
	ctx := context.Background()

	// Manual leader at 101000, then two hidden ceilings fight it out.
	leader := uuid.New()
	fx.escrow.paid[leader] = uuid.New()
	if _, err := fx.service.PlaceBid(ctx, PlaceBidInput{ListingID: fx.repo.listing.ID, BidderID: leader, AmountCents: 101000}); err != nil {
		t.Fatalf("manual leader: %v", err)
	}

	strong := uuid.New()
	weak := uuid.New()
	registerProxy(t, fx, strong, 101000, 110000)
	registerProxy(t, fx, weak, 101000, 105000)

	if err := fx.resolver.Resolve(ctx, fx.repo.listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The stronger ceiling wins at one step past the weaker ceiling.
	if fx.repo.listing.CurrentHighestBidCents != 106000 {
		t.Fatalf("expected final price 106000, got %d", fx.repo.listing.CurrentHighestBidCents)
	}
	if fx.repo.listing.CurrentHighestBidderID == nil || *fx.repo.listing.CurrentHighestBidderID != strong {
		t.Fatal("expected the higher ceiling to lead")
	}
	if fx.repo.bids[strong].AmountCents > 110000 {
		t.Fatalf("proxy paid %d, above its ceiling", fx.repo.bids[strong].AmountCents)
	}
	if fx.repo.bids[weak].AmountCents > 105000 {
		t.Fatalf("proxy paid %d, above its ceiling", fx.repo.bids[weak].AmountCents)
	}
	if fx.repo.listing.AutoBidLock {
		t.Fatal("lock must be released after resolution")
	}
}

func TestResolve_SingleProxyTakesOneStep(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), nil)
	ctx := context.Background()

	leader := uuid.New()
	fx.escrow.paid[leader] = uuid.New()
	if _, err := fx.service.PlaceBid(ctx, PlaceBidInput{ListingID: fx.repo.listing.ID, BidderID: leader, AmountCents: 101000}); err != nil {
		t.Fatalf("manual leader: %v", err)
	}

	proxy := uuid.New()
	registerProxy(t, fx, proxy, 100000, 150000)

	if err := fx.resolver.Resolve(ctx, fx.repo.listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// One increment beats the manual leader; the ceiling is never paid.
	if fx.repo.listing.CurrentHighestBidCents != 102000 {
		t.Fatalf("expected 102000, got %d", fx.repo.listing.CurrentHighestBidCents)
	}
	if *fx.repo.listing.CurrentHighestBidderID != proxy {
		t.Fatal("expected proxy to lead")
	}
}

func TestResolve_NoBidsYetStartsAtBasePrice(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), nil)

	proxy := uuid.New()
	registerProxy(t, fx, proxy, 0, 120000)

	if err := fx.resolver.Resolve(context.Background(), fx.repo.listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fx.repo.listing.CurrentHighestBidCents != 100000 {
		t.Fatalf("expected opening proxy bid at base price, got %d", fx.repo.listing.CurrentHighestBidCents)
	}
}

func TestResolve_LeaderProxyNotBidAgainstItself(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), nil)
	ctx := context.Background()

	proxy := uuid.New()
	registerProxy(t, fx, proxy, 0, 120000)

	if err := fx.resolver.Resolve(ctx, fx.repo.listing.ID); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	priceAfterFirst := fx.repo.listing.CurrentHighestBidCents

	if err := fx.resolver.Resolve(ctx, fx.repo.listing.ID); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if fx.repo.listing.CurrentHighestBidCents != priceAfterFirst {
		t.Fatalf("leading proxy bid against itself: %d -> %d", priceAfterFirst, fx.repo.listing.CurrentHighestBidCents)
	}
}

func TestResolve_TieBreaksOnEarliestUpdated(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), nil)

	first := uuid.New()
	second := uuid.New()
	registerProxy(t, fx, first, 0, 105000)
	registerProxy(t, fx, second, 0, 105000)

	if err := fx.resolver.Resolve(context.Background(), fx.repo.listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The earliest-registered ceiling opens at base price, then the war
	// alternates one step at a time. With equal ceilings the war stops at
	// the shared ceiling: eligibility needs a strictly greater ceiling, so
	// whoever lands exactly on it keeps the lead.
	if fx.repo.listing.CurrentHighestBidCents != 105000 {
		t.Fatalf("expected the war to stop at the shared ceiling, got %d", fx.repo.listing.CurrentHighestBidCents)
	}
	if fx.repo.listing.CurrentHighestBidderID == nil || *fx.repo.listing.CurrentHighestBidderID != second {
		t.Fatal("expected the responding proxy to land on the shared ceiling")
	}
	if fx.repo.bids[first].AmountCents >= 105000 {
		t.Fatalf("losing proxy overpaid: %d", fx.repo.bids[first].AmountCents)
	}
}

func TestResolve_SkipsWhenLockHeld(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), nil)
	fx.repo.listing.AutoBidLock = true

	proxy := uuid.New()
	registerProxy(t, fx, proxy, 0, 120000)

	if err := fx.resolver.Resolve(context.Background(), fx.repo.listing.ID); err != nil {
		t.Fatalf("resolve with held lock: %v", err)
	}
	if fx.repo.listing.CurrentHighestBidCents != 0 {
		t.Fatal("resolver must not run while another loop holds the lock")
	}
	if !fx.repo.listing.AutoBidLock {
		t.Fatal("a skipped run must not release someone else's lock")
	}
}

func TestResolve_RoundCapNotifiesOwner(t *testing.T) {
	fx := newFixture(t, liveListing(t, 100000, 1000), func(cfg *config.AuctionConfig) {
		cfg.AutoBidMaxRounds = 3
	})

	a := uuid.New()
	b := uuid.New()
	registerProxy(t, fx, a, 0, 10000000)
	registerProxy(t, fx, b, 0, 10000000)

	// Equal giant ceilings cannot outbid each other, so the loop would
	// normally converge fast; force churn by letting commits fail so every
	// round burns without converging.
	fx.repo.failNextCommits = 3

	if err := fx.resolver.Resolve(context.Background(), fx.repo.listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(fx.notifier.sent) != 1 {
		t.Fatalf("expected one owner warning, got %d", len(fx.notifier.sent))
	}
	warning := fx.notifier.sent[0]
	if warning.UserID != fx.repo.listing.OwnerID {
		t.Fatal("warning must go to the listing owner")
	}
	if warning.Type != enums.NotificationTypeAuctionWarning {
		t.Fatalf("unexpected notification type %s", warning.Type)
	}
	if fx.repo.listing.AutoBidLock {
		t.Fatal("lock must be released after exhaustion")
	}
}

func TestResolve_StopsWhenAuctionNoLongerBiddable(t *testing.T) {
	listing := liveListing(t, 100000, 1000)
	ends := time.Now().UTC().Add(-time.Minute)
	listing.AuctionEndsAt = &ends
	fx := newFixture(t, listing, nil)

	proxy := uuid.New()
	registerProxy(t, fx, proxy, 0, 120000)

	if err := fx.resolver.Resolve(context.Background(), listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fx.repo.listing.CurrentHighestBidCents != 0 {
		t.Fatal("resolver must not bid on an ended auction")
	}
}

func TestResolve_ProxyWarTriggersExtension(t *testing.T) {
	listing := liveListing(t, 100000, 1000)
	ends := time.Now().UTC().Add(time.Minute)
	listing.AuctionEndsAt = &ends
	fx := newFixture(t, listing, nil)

	proxy := uuid.New()
	registerProxy(t, fx, proxy, 0, 120000)

	if err := fx.resolver.Resolve(context.Background(), listing.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !fx.repo.listing.Extended {
		t.Fatal("synthetic bid inside the window must extend the close time")
	}
	if len(fx.broadcaster.byType("auction_extended")) == 0 {
		t.Fatal("expected an auction_extended broadcast")
	}
}
