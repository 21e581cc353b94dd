package settlement

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlots/openlots-backend/internal/escrow"
	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/internal/realtime"
	"github.com/openlots/openlots-backend/internal/wallet"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db/models"
	"github.com/openlots/openlots-backend/pkg/enums"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/metrics"
)

type fakeSettleRepo struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*models.Listing
	bids     map[uuid.UUID]*models.Bid
}

func newFakeSettleRepo() *fakeSettleRepo {
	return &fakeSettleRepo{
		listings: make(map[uuid.UUID]*models.Listing),
		bids:     make(map[uuid.UUID]*models.Bid),
	}
}

func (f *fakeSettleRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeSettleRepo) claimable(listing *models.Listing, now time.Time, leaseTTL time.Duration) bool {
	switch listing.Status {
	case enums.ListingStatusDraft, enums.ListingStatusPublished:
		return true
	case enums.ListingStatusProcessing:
		return listing.ProcessingStartedAt != nil && listing.ProcessingStartedAt.Before(now.Add(-leaseTTL))
	default:
		return false
	}
}

func (f *fakeSettleRepo) FindExpired(ctx context.Context, now time.Time, leaseTTL time.Duration) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Listing
	for _, listing := range f.listings {
		if !listing.IsAuction || listing.AuctionEndsAt == nil || !listing.AuctionEndsAt.Before(now) {
			continue
		}
		if f.claimable(listing, now, leaseTTL) {
			out = append(out, *listing)
		}
	}
	return out, nil
}

func (f *fakeSettleRepo) Claim(ctx context.Context, listingID uuid.UUID, now time.Time, leaseTTL time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing, ok := f.listings[listingID]
	if !ok || !f.claimable(listing, now, leaseTTL) {
		return false, nil
	}
	listing.Status = enums.ListingStatusProcessing
	stamp := now
	listing.ProcessingStartedAt = &stamp
	return true, nil
}

func (f *fakeSettleRepo) FinalizeClosed(ctx context.Context, listingID uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing := f.listings[listingID]
	listing.Status = enums.ListingStatusClosed
	listing.ProcessingStartedAt = nil
	return nil
}

func (f *fakeSettleRepo) FinalizeOwned(ctx context.Context, listingID, winnerID uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing := f.listings[listingID]
	listing.Status = enums.ListingStatusOwned
	winner := winnerID
	listing.SoldTo = &winner
	sold := now
	listing.SoldAt = &sold
	listing.ProcessingStartedAt = nil
	return nil
}

func (f *fakeSettleRepo) FindActiveBids(ctx context.Context, listingID uuid.UUID) ([]models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Bid
	for _, bid := range f.bids {
		if bid.ListingID == listingID && bid.Status == enums.BidStatusActive {
			out = append(out, *bid)
		}
	}
	return out, nil
}

func (f *fakeSettleRepo) UpdateBidStatus(ctx context.Context, bidID uuid.UUID, status enums.BidStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bid, ok := f.bids[bidID]; ok {
		bid.Status = status
	}
	return nil
}

type fakeEscrowRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.EscrowPayment
}

func (f *fakeEscrowRepo) WithTx(tx *gorm.DB) escrow.Repository { return f }

func (f *fakeEscrowRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	copied := *payment
	return &copied, nil
}

func (f *fakeEscrowRepo) FindByPayerAndListing(ctx context.Context, payerID, listingID uuid.UUID) (*models.EscrowPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, payment := range f.payments {
		if payment.PayerID == payerID && payment.ListingID == listingID {
			copied := *payment
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeEscrowRepo) MarkRefunded(ctx context.Context, id uuid.UUID, refundAmountCents int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[id]
	if !ok || payment.RefundStatus == enums.RefundStatusCompleted {
		return false, nil
	}
	payment.RefundStatus = enums.RefundStatusCompleted
	payment.Status = enums.EscrowStatusRefunded
	payment.RefundAmountCents = refundAmountCents
	return true, nil
}

type fakeWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
	entries []*models.WalletLedgerEntry
}

func (f *fakeWalletRepo) WithTx(tx *gorm.DB) wallet.Repository { return f }

func (f *fakeWalletRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return w, nil
}

func (f *fakeWalletRepo) IncrementBalance(ctx context.Context, userID uuid.UUID, deltaCents int64) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	w.BalanceCents += deltaCents
	copied := *w
	return &copied, nil
}

func (f *fakeWalletRepo) HasLedgerEntryForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.PaymentID != nil && *entry.PaymentID == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWalletRepo) CreateLedgerEntry(ctx context.Context, entry *models.WalletLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.NotifyInput
}

func (r *recordingNotifier) WithTx(tx *gorm.DB) notify.Service { return r }

func (r *recordingNotifier) Notify(ctx context.Context, input notify.NotifyInput) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, input)
	return &models.Notification{UserID: input.UserID}, nil
}

func (r *recordingNotifier) List(ctx context.Context, params notify.ListParams) (*notify.ListResult, error) {
	return &notify.ListResult{}, nil
}

func (r *recordingNotifier) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return nil
}

func (r *recordingNotifier) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, event realtime.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type jobFixture struct {
	repo        *fakeSettleRepo
	escrowRepo  *fakeEscrowRepo
	walletRepo  *fakeWalletRepo
	notifier    *recordingNotifier
	broadcaster *recordingBroadcaster
	job         *job
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()
	repo := newFakeSettleRepo()
	escrowRepo := &fakeEscrowRepo{payments: make(map[uuid.UUID]*models.EscrowPayment)}
	walletRepo := &fakeWalletRepo{wallets: make(map[uuid.UUID]*models.Wallet)}
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}

	walletSvc, err := wallet.NewService(walletRepo)
	if err != nil {
		t.Fatalf("wallet service: %v", err)
	}

	built, err := NewJob(JobParams{
		Logger:      logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard}),
		DB:          passthroughTx{},
		Repo:        repo,
		EscrowRepo:  escrowRepo,
		Wallet:      walletSvc,
		Notifier:    notifier,
		Broadcaster: broadcaster,
		Config: config.SettlementConfig{
			Interval:           30 * time.Second,
			RefundPercent:      0.60,
			ProcessingLeaseTTL: 5 * time.Minute,
		},
		Metrics: metrics.NewAuctionMetrics(nil),
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	return &jobFixture{
		repo:        repo,
		escrowRepo:  escrowRepo,
		walletRepo:  walletRepo,
		notifier:    notifier,
		broadcaster: broadcaster,
		job:         built.(*job),
	}
}

func (fx *jobFixture) addExpiredListing(t *testing.T, winnerID *uuid.UUID, highestCents int64) *models.Listing {
	t.Helper()
	ends := time.Now().UTC().Add(-time.Minute)
	listing := &models.Listing{
		ID:                     uuid.New(),
		OwnerID:                uuid.New(),
		Title:                  "Corner lot, Hillcrest",
		IsAuction:              true,
		BasePriceCents:         100000,
		AuctionStepCents:       1000,
		AuctionEndsAt:          &ends,
		Status:                 enums.ListingStatusPublished,
		CurrentHighestBidCents: highestCents,
		CurrentHighestBidderID: winnerID,
	}
	fx.repo.listings[listing.ID] = listing
	return listing
}

func (fx *jobFixture) addBidder(t *testing.T, listingID uuid.UUID, amountCents, escrowCents int64) (uuid.UUID, *models.Bid) {
	t.Helper()
	bidderID := uuid.New()
	payment := &models.EscrowPayment{
		ID:           uuid.New(),
		PayerID:      bidderID,
		ListingID:    listingID,
		AmountCents:  escrowCents,
		Status:       enums.EscrowStatusSuccess,
		RefundStatus: enums.RefundStatusPending,
	}
	fx.escrowRepo.payments[payment.ID] = payment
	bid := &models.Bid{
		ID:              uuid.New(),
		ListingID:       listingID,
		BidderID:        bidderID,
		AmountCents:     amountCents,
		Status:          enums.BidStatusActive,
		EscrowPaymentID: payment.ID,
	}
	fx.repo.bids[bid.ID] = bid
	fx.walletRepo.wallets[bidderID] = &models.Wallet{ID: uuid.New(), UserID: bidderID}
	return bidderID, bid
}

func TestSettlement_DeclaresWinnerAndRefundsLosers(t *testing.T) {
	fx := newJobFixture(t)

	listing := fx.addExpiredListing(t, nil, 0)
	winnerID, winnerBid := fx.addBidder(t, listing.ID, 105000, 5000)
	loserID, loserBid := fx.addBidder(t, listing.ID, 104000, 5000)
	listing.CurrentHighestBidCents = 105000
	listing.CurrentHighestBidderID = &winnerID

	if err := fx.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if listing.Status != enums.ListingStatusOwned {
		t.Fatalf("expected owned, got %s", listing.Status)
	}
	if listing.SoldTo == nil || *listing.SoldTo != winnerID {
		t.Fatal("sold_to must record the winner")
	}
	if winnerBid.Status != enums.BidStatusWon {
		t.Fatalf("winner bid status %s", winnerBid.Status)
	}
	if loserBid.Status != enums.BidStatusOutbid {
		t.Fatalf("loser bid status %s", loserBid.Status)
	}

	// 60% of the 5000 entry fee.
	if got := fx.walletRepo.wallets[loserID].BalanceCents; got != 3000 {
		t.Fatalf("loser refund: want 3000 got %d", got)
	}
	if got := fx.walletRepo.wallets[winnerID].BalanceCents; got != 0 {
		t.Fatalf("winner must not be refunded, got %d", got)
	}

	payment := fx.escrowRepo.payments[loserBid.EscrowPaymentID]
	if payment.RefundStatus != enums.RefundStatusCompleted || payment.Status != enums.EscrowStatusRefunded {
		t.Fatalf("loser escrow not closed out: %+v", payment)
	}
	if payment.RefundAmountCents != 3000 {
		t.Fatalf("refund amount recorded as %d", payment.RefundAmountCents)
	}

	var ended int
	for _, event := range fx.broadcaster.events {
		if event.Type == realtime.EventAuctionEnded {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("expected one auction_ended broadcast, got %d", ended)
	}
}

func TestSettlement_IsIdempotentAcrossRuns(t *testing.T) {
	fx := newJobFixture(t)

	listing := fx.addExpiredListing(t, nil, 0)
	winnerID, _ := fx.addBidder(t, listing.ID, 105000, 5000)
	loserID, loserBid := fx.addBidder(t, listing.ID, 104000, 5000)
	listing.CurrentHighestBidCents = 105000
	listing.CurrentHighestBidderID = &winnerID

	if err := fx.job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Force the listing back through the pipeline as a stale lease would.
	listing.Status = enums.ListingStatusProcessing
	stale := time.Now().UTC().Add(-time.Hour)
	listing.ProcessingStartedAt = &stale
	loserBid.Status = enums.BidStatusActive

	if err := fx.job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := fx.walletRepo.wallets[loserID].BalanceCents; got != 3000 {
		t.Fatalf("loser credited twice: %d", got)
	}
	if got := len(fx.walletRepo.entries); got != 1 {
		t.Fatalf("expected one ledger entry, got %d", got)
	}
	payment := fx.escrowRepo.payments[loserBid.EscrowPaymentID]
	if payment.RefundAmountCents != 3000 {
		t.Fatalf("refund amount changed on re-run: %d", payment.RefundAmountCents)
	}
	if loserBid.Status != enums.BidStatusOutbid {
		t.Fatalf("re-run must restore the outbid status, got %s", loserBid.Status)
	}
}

func TestSettlement_NoBidsClosesWithoutSale(t *testing.T) {
	fx := newJobFixture(t)
	listing := fx.addExpiredListing(t, nil, 0)

	if err := fx.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if listing.Status != enums.ListingStatusClosed {
		t.Fatalf("expected closed, got %s", listing.Status)
	}
	if listing.SoldTo != nil {
		t.Fatal("no-sale close must not record a buyer")
	}
	if len(fx.walletRepo.entries) != 0 {
		t.Fatal("no refunds on a no-sale close")
	}
}

func TestSettlement_OneLoserFailureDoesNotBlockOthers(t *testing.T) {
	fx := newJobFixture(t)

	listing := fx.addExpiredListing(t, nil, 0)
	winnerID, _ := fx.addBidder(t, listing.ID, 110000, 5000)
	_, brokenBid := fx.addBidder(t, listing.ID, 105000, 5000)
	healthyID, healthyBid := fx.addBidder(t, listing.ID, 104000, 5000)
	listing.CurrentHighestBidCents = 110000
	listing.CurrentHighestBidderID = &winnerID

	// Orphan one loser's escrow reference.
	delete(fx.escrowRepo.payments, brokenBid.EscrowPaymentID)

	err := fx.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the broken refund to surface as an error")
	}

	if got := fx.walletRepo.wallets[healthyID].BalanceCents; got != 3000 {
		t.Fatalf("healthy loser must still be refunded, got %d", got)
	}
	if healthyBid.Status != enums.BidStatusOutbid {
		t.Fatalf("healthy loser bid status %s", healthyBid.Status)
	}
	if brokenBid.Status != enums.BidStatusActive {
		t.Fatalf("broken refund must leave the bid untouched, got %s", brokenBid.Status)
	}
}

func TestSettlement_SkipsListingsInsideLease(t *testing.T) {
	fx := newJobFixture(t)

	listing := fx.addExpiredListing(t, nil, 0)
	listing.Status = enums.ListingStatusProcessing
	fresh := time.Now().UTC().Add(-time.Minute)
	listing.ProcessingStartedAt = &fresh

	if err := fx.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if listing.Status != enums.ListingStatusProcessing {
		t.Fatalf("listing inside its lease must be left alone, got %s", listing.Status)
	}
}

func TestRefundAmountRounding(t *testing.T) {
	cases := []struct {
		amount  int64
		percent float64
		want    int64
	}{
		{5000, 0.60, 3000},
		{1001, 0.60, 601},
		{999, 0.60, 599},
		{1, 0.60, 1},
		{0, 0.60, 0},
	}
	for _, tc := range cases {
		if got := refundAmountCents(tc.amount, tc.percent); got != tc.want {
			t.Fatalf("refund(%d, %v) = %d, want %d", tc.amount, tc.percent, got, tc.want)
		}
	}
}
