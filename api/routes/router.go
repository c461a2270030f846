package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bytefrontng/bytefront-backend/api/controllers"
	"github.com/bytefrontng/bytefront-backend/api/middleware"
	"github.com/bytefrontng/bytefront-backend/internal/auth"
	"github.com/bytefrontng/bytefront-backend/internal/cartsession"
	"github.com/bytefrontng/bytefront-backend/internal/catalog"
	checkoutsvc "github.com/bytefrontng/bytefront-backend/internal/checkout"
	"github.com/bytefrontng/bytefront-backend/internal/messages"
	"github.com/bytefrontng/bytefront-backend/internal/notifications"
	"github.com/bytefrontng/bytefront-backend/internal/orders"
	"github.com/bytefrontng/bytefront-backend/pkg/auth/session"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/db"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/redis"
	"github.com/bytefrontng/bytefront-backend/pkg/storage/gcs"
)

// Deps carries everything the HTTP surface needs. Optional fields may be nil;
// the affected endpoints respond with a dependency error.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      db.Pinger
	Redis   *redis.Client
	GCS     *gcs.Client
	Session *session.Manager

	AuthService          auth.Service
	CatalogService       catalog.Service
	CartSessions         *cartsession.Manager
	CheckoutService      checkoutsvc.Service
	OrdersService        orders.Service
	MessagesService      messages.Service
	NotificationsService notifications.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/contact", controllers.SubmitContactMessage(deps.MessagesService, logg))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ListProducts(deps.CatalogService, logg))
			r.Get("/{productId}", controllers.GetProduct(deps.CatalogService, logg))
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", controllers.AuthRegister(deps.AuthService, logg))
			r.Post("/login", controllers.AuthLogin(deps.AuthService, logg))
			r.Post("/refresh", controllers.AuthRefresh(deps.AuthService, logg))
			r.With(middleware.Auth(cfg.JWT, deps.Session, logg)).
				Post("/logout", controllers.AuthLogout(deps.AuthService, deps.CartSessions, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, deps.Session, logg))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.CartFetch(deps.CartSessions, logg))
				r.Delete("/", controllers.CartClear(deps.CartSessions, logg))
				r.Post("/items", controllers.CartAddItem(deps.CartSessions, deps.CatalogService, logg))
				r.Patch("/items/{productId}", controllers.CartUpdateItem(deps.CartSessions, logg))
				r.Delete("/items/{productId}", controllers.CartRemoveItem(deps.CartSessions, logg))
			})

			r.Post("/checkout", controllers.Checkout(deps.CheckoutService, logg))
			r.Post("/uploads/payment-proof", controllers.UploadPaymentProof(deps.GCS, cfg.GCS, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.ListOrders(deps.OrdersService, logg))
				r.Get("/{orderId}", controllers.GetOrder(deps.OrdersService, logg))
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(deps.NotificationsService, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.NotificationsService, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.NotificationsService, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Session, logg))
		r.Use(middleware.RequireRole("admin", logg))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.AdminListProducts(deps.CatalogService, logg))
			r.Post("/", controllers.AdminCreateProduct(deps.CatalogService, logg))
			r.Patch("/{productId}", controllers.AdminUpdateProduct(deps.CatalogService, logg))
			r.Delete("/{productId}", controllers.AdminDeleteProduct(deps.CatalogService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.AdminListOrders(deps.OrdersService, logg))
			r.Get("/{orderId}", controllers.AdminGetOrder(deps.OrdersService, logg))
			r.Post("/{orderId}/status", controllers.AdminChangeOrderStatus(deps.OrdersService, logg))
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", controllers.AdminListMessages(deps.MessagesService, logg))
			r.Post("/{messageId}/handle", controllers.AdminMarkMessageHandled(deps.MessagesService, logg))
		})
	})

	return r
}
