package auction

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
)

// fakeRepo mirrors the conditional-write contracts of the real repository
// against in-memory state.
type fakeRepo struct {
	mu      sync.Mutex
	listing *models.Listing
	bids    map[uuid.UUID]*models.Bid
	users   map[uuid.UUID]*models.User

	commitCalls int
	clockSeq    int64

	failNextCommits int
}

func newFakeRepo(listing *models.Listing) *fakeRepo {
	return &fakeRepo{
		listing: listing,
		bids:    make(map[uuid.UUID]*models.Bid),
		users:   make(map[uuid.UUID]*models.User),
	}
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) nextTime() time.Time {
	f.clockSeq++
	return time.Unix(0, f.clockSeq)
}

func (f *fakeRepo) FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listing == nil || f.listing.ID != listingID {
		return nil, nil
	}
	copied := *f.listing
	return &copied, nil
}

func (f *fakeRepo) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeRepo) FindBid(ctx context.Context, listingID, bidderID uuid.UUID) (*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bid, ok := f.bids[bidderID]
	if !ok || bid.ListingID != listingID {
		return nil, nil
	}
	copied := *bid
	return &copied, nil
}

func (f *fakeRepo) UpsertBid(ctx context.Context, bid *models.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.bids[bid.BidderID]; ok {
		existing.AmountCents = bid.AmountCents
		existing.IsAutoBid = bid.IsAutoBid
		existing.AutoBidMaxCents = bid.AutoBidMaxCents
		existing.Status = bid.Status
		existing.UpdatedAt = f.nextTime()
		return nil
	}
	stored := *bid
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.UpdatedAt = f.nextTime()
	f.bids[bid.BidderID] = &stored
	return nil
}

func (f *fakeRepo) TouchBidAmount(ctx context.Context, bidID uuid.UUID, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bid := range f.bids {
		if bid.ID == bidID {
			bid.AmountCents = amountCents
			bid.Status = enums.BidStatusActive
			bid.UpdatedAt = f.nextTime()
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) CommitHighestBid(ctx context.Context, listingID, bidderID uuid.UUID, amountCents int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	if f.failNextCommits > 0 {
		f.failNextCommits--
		return false, nil
	}
	if f.listing == nil || f.listing.ID != listingID {
		return false, nil
	}
	if f.listing.CurrentHighestBidCents >= amountCents {
		return false, nil
	}
	f.listing.CurrentHighestBidCents = amountCents
	bidder := bidderID
	f.listing.CurrentHighestBidderID = &bidder
	return true, nil
}

func (f *fakeRepo) ExtendEndsAt(ctx context.Context, listingID uuid.UUID, now time.Time, window, extension time.Duration) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listing == nil || f.listing.ID != listingID || f.listing.AuctionEndsAt == nil {
		return nil, nil
	}
	if f.listing.Status != enums.ListingStatusPublished {
		return nil, nil
	}
	ends := *f.listing.AuctionEndsAt
	if !ends.After(now) || ends.After(now.Add(window)) {
		return nil, nil
	}
	extended := ends.Add(extension)
	f.listing.AuctionEndsAt = &extended
	f.listing.Extended = true
	return &extended, nil
}

func (f *fakeRepo) FindBestProxy(ctx context.Context, listingID uuid.UUID, excludeBidder *uuid.UUID, aboveCents int64) (*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Bid
	for _, bid := range f.bids {
		if bid.ListingID != listingID || !bid.IsAutoBid || bid.Status != enums.BidStatusActive {
			continue
		}
		if excludeBidder != nil && bid.BidderID == *excludeBidder {
			continue
		}
		if bid.AutoBidMaxCents <= aboveCents {
			continue
		}
		if best == nil ||
			bid.AutoBidMaxCents > best.AutoBidMaxCents ||
			(bid.AutoBidMaxCents == best.AutoBidMaxCents && bid.UpdatedAt.Before(best.UpdatedAt)) {
			best = bid
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (f *fakeRepo) TryAcquireAutoBidLock(ctx context.Context, listingID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listing == nil || f.listing.ID != listingID || f.listing.AutoBidLock {
		return false, nil
	}
	f.listing.AutoBidLock = true
	return true, nil
}

func (f *fakeRepo) ReleaseAutoBidLock(ctx context.Context, listingID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listing != nil && f.listing.ID == listingID {
		f.listing.AutoBidLock = false
	}
	return nil
}

type fakeEscrow struct {
	paid map[uuid.UUID]uuid.UUID // payer -> escrow payment id
}

func (f *fakeEscrow) HasPaidEntryFee(ctx context.Context, listingID, userID uuid.UUID) (bool, error) {
	payment, err := f.FindSuccessfulPayment(ctx, listingID, userID)
	return payment != nil, err
}

func (f *fakeEscrow) FindSuccessfulPayment(ctx context.Context, listingID, userID uuid.UUID) (*models.EscrowPayment, error) {
	paymentID, ok := f.paid[userID]
	if !ok {
		return nil, nil
	}
	return &models.EscrowPayment{
		ID:        paymentID,
		PayerID:   userID,
		ListingID: listingID,
		Status:    enums.EscrowStatusSuccess,
	}, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, event realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeBroadcaster) byType(eventType realtime.EventType) []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []realtime.Event
	for _, event := range f.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeDebouncer struct {
	blocked bool
	keys    []string
}

func (f *fakeDebouncer) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return !f.blocked, nil
}

func (f *fakeDebouncer) DebounceKey(listingID, bidderID string) string {
	return "test:" + listingID + ":" + bidderID
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.NotifyInput
	fail error
}

func (f *fakeNotifier) WithTx(tx *gorm.DB) notify.Service { return f }

func (f *fakeNotifier) Notify(ctx context.Context, input notify.NotifyInput) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sent = append(f.sent, input)
	return &models.Notification{UserID: input.UserID, Type: input.Type, Title: input.Title}, nil
}

func (f *fakeNotifier) List(ctx context.Context, params notify.ListParams) (*notify.ListResult, error) {
	return &notify.ListResult{}, nil
}

func (f *fakeNotifier) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return nil
}

func (f *fakeNotifier) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func testAuctionConfig() config.AuctionConfig {
	return config.AuctionConfig{
		LastMinuteWindow:  2 * time.Minute,
		ExtensionTime:     2 * time.Minute,
		AutoBidMaxRounds:  2000,
		AutoBidRoundDelay: 0,
		BidDebounce:       500 * time.Millisecond,
	}
}

func liveListing(t *testing.T, basePriceCents, stepCents int64) *models.Listing {
	t.Helper()
	starts := time.Now().UTC().Add(-time.Hour)
	ends := time.Now().UTC().Add(time.Hour)
	return &models.Listing{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Title:            "3BR townhouse, Rosewood Ave",
		IsAuction:        true,
		BasePriceCents:   basePriceCents,
		AuctionStepCents: stepCents,
		AuctionStartsAt:  &starts,
		AuctionEndsAt:    &ends,
		Status:           enums.ListingStatusPublished,
	}
}

type fixture struct {
	repo        *fakeRepo
	escrow      *fakeEscrow
	broadcaster *fakeBroadcaster
	debounce    *fakeDebouncer
	notifier    *fakeNotifier
	extender    *Extender
	resolver    *Resolver
	service     Service
	cfg         config.AuctionConfig
}

func newFixture(t *testing.T, listing *models.Listing, mutate func(cfg *config.AuctionConfig)) *fixture {
	t.Helper()
	cfg := testAuctionConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	repo := newFakeRepo(listing)
	broadcaster := &fakeBroadcaster{}
	notifier := &fakeNotifier{}
	logg := testLogger()
	m := metrics.NewAuctionMetrics(nil)

	extender, err := NewExtender(repo, broadcaster, cfg, logg, m)
	if err != nil {
		t.Fatalf("new extender: %v", err)
	}
	resolver, err := NewResolver(repo, extender, broadcaster, notifier, cfg, logg, m)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	escrowSvc := &fakeEscrow{paid: make(map[uuid.UUID]uuid.UUID)}
	debounce := &fakeDebouncer{}
	svc, err := NewService(repo, escrowSvc, extender, resolver, broadcaster, debounce, cfg, logg, m)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return &fixture{
		repo:        repo,
		escrow:      escrowSvc,
		broadcaster: broadcaster,
		debounce:    debounce,
		notifier:    notifier,
		extender:    extender,
		resolver:    resolver,
		service:     svc,
		cfg:         cfg,
	}
}
