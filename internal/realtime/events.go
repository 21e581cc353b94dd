package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType labels the realtime messages fanned out to auction watchers.
type EventType string

const (
	EventNewBid          EventType = "new_bid"
	EventAuctionExtended EventType = "auction_extended"
	EventAuctionEnded    EventType = "auction_ended"
	EventBidError        EventType = "bid_error"
)

// Event is the wire format published to a listing's channel.
type Event struct {
	Type      EventType       `json:"type"`
	ListingID uuid.UUID       `json:"listing_id"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// NewBidPayload announces an accepted bid to everyone watching the listing.
type NewBidPayload struct {
	AmountCents int64     `json:"amount_cents"`
	BidderID    uuid.UUID `json:"bidder_id"`
	BidderName  string    `json:"bidder_name,omitempty"`
	IsAutoBid   bool      `json:"is_auto_bid"`
	PlacedAt    time.Time `json:"placed_at"`
}

// AuctionExtendedPayload carries the deadline pushed by a last-minute bid.
type AuctionExtendedPayload struct {
	NewEndTime time.Time `json:"new_end_time"`
	ExtendedBy string    `json:"extended_by"`
}

// AuctionEndedPayload closes out a listing's stream.
type AuctionEndedPayload struct {
	WinnerID        *uuid.UUID `json:"winner_id,omitempty"`
	FinalPriceCents int64      `json:"final_price_cents"`
	Sold            bool       `json:"sold"`
}

// BidErrorPayload reports a rejected bid back on the stream.
type BidErrorPayload struct {
	BidderID uuid.UUID `json:"bidder_id"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
}

// NewEvent wraps a typed payload into an Event, stamping the current time.
func NewEvent(eventType EventType, listingID uuid.UUID, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		ListingID: listingID,
		Payload:   raw,
		At:        time.Now().UTC(),
	}, nil
}
