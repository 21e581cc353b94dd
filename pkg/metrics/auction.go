package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuctionMetrics counts the bidding engine's hot-path outcomes.
type AuctionMetrics struct {
	bidsAccepted  prometheus.Counter
	bidsRejected  *prometheus.CounterVec
	bidsDebounced prometheus.Counter
	extensions    prometheus.Counter
	autoBidRounds prometheus.Histogram
	refunds       *prometheus.CounterVec
}

// NewAuctionMetrics registers the auction metrics on the provided registerer.
func NewAuctionMetrics(reg prometheus.Registerer) *AuctionMetrics {
	if reg == nil {
		return &AuctionMetrics{}
	}
	bidsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Bids committed as the new highest bid.",
	})
	bidsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_rejected_total",
		Help: "Bids rejected, labeled by the tagged reason.",
	}, []string{"reason"})
	bidsDebounced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_debounced_total",
		Help: "Bids silently dropped by the per-bidder debounce.",
	})
	extensions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_extensions_total",
		Help: "Anti-sniping close-time extensions applied.",
	})
	autoBidRounds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_autobid_rounds",
		Help:    "Rounds each proxy resolution loop ran before converging.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500, 2000},
	})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_settlement_refunds_total",
		Help: "Loser refunds processed by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(bidsAccepted, bidsRejected, bidsDebounced, extensions, autoBidRounds, refunds)
	return &AuctionMetrics{
		bidsAccepted:  bidsAccepted,
		bidsRejected:  bidsRejected,
		bidsDebounced: bidsDebounced,
		extensions:    extensions,
		autoBidRounds: autoBidRounds,
		refunds:       refunds,
	}
}

// IncBidAccepted counts a committed highest bid.
func (a *AuctionMetrics) IncBidAccepted() {
	if a == nil || a.bidsAccepted == nil {
		return
	}
	a.bidsAccepted.Inc()
}

// IncBidRejected counts a rejection by tagged reason.
func (a *AuctionMetrics) IncBidRejected(reason string) {
	if a == nil || a.bidsRejected == nil {
		return
	}
	a.bidsRejected.WithLabelValues(jobLabel(reason)).Inc()
}

// IncBidDebounced counts a silently dropped double-submit.
func (a *AuctionMetrics) IncBidDebounced() {
	if a == nil || a.bidsDebounced == nil {
		return
	}
	a.bidsDebounced.Inc()
}

// IncExtension counts an anti-sniping extension.
func (a *AuctionMetrics) IncExtension() {
	if a == nil || a.extensions == nil {
		return
	}
	a.extensions.Inc()
}

// ObserveAutoBidRounds records how many rounds a resolution loop took.
func (a *AuctionMetrics) ObserveAutoBidRounds(rounds int) {
	if a == nil || a.autoBidRounds == nil {
		return
	}
	a.autoBidRounds.Observe(float64(rounds))
}

// IncRefund counts a settlement refund by outcome.
func (a *AuctionMetrics) IncRefund(outcome string) {
	if a == nil || a.refunds == nil {
		return
	}
	a.refunds.WithLabelValues(jobLabel(outcome)).Inc()
}
