package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openlots/openlots-backend/api/middleware"
	"github.com/openlots/openlots-backend/api/responses"
	"github.com/openlots/openlots-backend/api/validators"
	"github.com/openlots/openlots-backend/internal/auction"
	"github.com/openlots/openlots-backend/internal/realtime"
	pkgerrors "github.com/openlots/openlots-backend/pkg/errors"
	"github.com/openlots/openlots-backend/pkg/logger"
)

type placeBidRequest struct {
	AmountCents     int64 `json:"amount_cents" validate:"required,gt=0"`
	AutoBidMaxCents int64 `json:"auto_bid_max_cents" validate:"omitempty,gt=0"`
}

// PlaceBid submits a manual bid on a live auction for the authenticated user.
func PlaceBid(svc auction.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auction service unavailable"))
			return
		}

		listingID, bidderID, err := auctionRequestIDs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body placeBidRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PlaceBid(r.Context(), auction.PlaceBidInput{
			ListingID:       listingID,
			BidderID:        bidderID,
			AmountCents:     body.AmountCents,
			AutoBidMaxCents: body.AutoBidMaxCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AuctionSnapshot returns the current read-model of one auction.
func AuctionSnapshot(svc auction.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auction service unavailable"))
			return
		}

		listingID, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.Snapshot(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// Subscriber hands out per-listing event channels. The realtime hub satisfies it.
type Subscriber interface {
	Subscribe(listingID uuid.UUID) (<-chan realtime.Event, func())
}

// AuctionStream serves a listing's live event feed over server-sent events.
// The connection stays open until the client disconnects.
func AuctionStream(svc auction.Service, sub Subscriber, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || sub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auction stream unavailable"))
			return
		}

		listingID, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		snapshot, err := svc.Snapshot(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		writeSSE(w, "snapshot", snapshot)
		flusher.Flush()

		events, cancel := sub.Subscribe(listingID)
		defer cancel()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, open := <-events:
				if !open {
					return
				}
				writeSSE(w, string(event.Type), event)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, eventName string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, data)
}

func listingIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "listingId")
	listingID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid listing id")
	}
	return listingID, nil
}

func auctionRequestIDs(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	listingID, err := listingIDParam(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	rawUser := middleware.UserIDFromContext(r.Context())
	if rawUser == "" {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	bidderID, err := uuid.Parse(rawUser)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return listingID, bidderID, nil
}
