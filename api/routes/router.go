package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openlots/openlots-backend/api/controllers"
	"github.com/openlots/openlots-backend/api/middleware"
	"github.com/openlots/openlots-backend/internal/auction"
	"github.com/openlots/openlots-backend/internal/notify"
	"github.com/openlots/openlots-backend/pkg/config"
	"github.com/openlots/openlots-backend/pkg/db"
	"github.com/openlots/openlots-backend/pkg/logger"
	"github.com/openlots/openlots-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	auctionService auction.Service,
	streamSource controllers.Subscriber,
	notifyService notify.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/auctions", func(r chi.Router) {
		r.Get("/{listingId}", controllers.AuctionSnapshot(auctionService, logg))
		r.Get("/{listingId}/stream", controllers.AuctionStream(auctionService, streamSource, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Post("/{listingId}/bids", controllers.PlaceBid(auctionService, logg))
		})
	})

	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/", controllers.ListNotifications(notifyService, logg))
		r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notifyService, logg))
		r.Post("/read-all", controllers.MarkAllNotificationsRead(notifyService, logg))
	})

	return r
}
