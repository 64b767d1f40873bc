package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, auth Authenticator) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(handler.log().With(zap.String("component", "http"))))
	r.Use(cors)

	r.Get("/health", handler.Health)
	r.With(auth.Middleware(true)).Get("/ws", handler.Websocket)

	r.Route("/api/v1", func(r chi.Router) {
		// Signed by the gateway, not by a user token.
		r.Post("/orders/webhook", handler.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(false))

			r.Route("/requests", func(r chi.Router) {
				r.Post("/", handler.CreateRequest)
				r.Get("/", handler.ListRequests)
				r.Get("/{id}", handler.GetRequest)
				r.Patch("/{id}", handler.UpdateRequest)
				r.Delete("/{id}", handler.DeleteRequest)
				r.Post("/{id}/fulfill", handler.FulfillRequest)
				r.Patch("/{id}/extend", handler.ExtendRequest)
				r.Post("/{id}/images", handler.UploadImages)
				r.Get("/{id}/history", handler.RequestHistory)
			})

			r.Route("/offers", func(r chi.Router) {
				r.Post("/", handler.CreateOffer)
				r.Get("/", handler.ListOffers)
				r.Post("/bulk/withdraw", handler.BulkWithdraw)
				r.Post("/bulk/reject", handler.BulkReject)
				r.Get("/{id}", handler.GetOffer)
				r.Patch("/{id}", handler.UpdateOffer)
				r.Patch("/{id}/withdraw", handler.WithdrawOffer)
				r.Post("/{id}/accept", handler.AcceptOffer)
				r.Post("/{id}/reject", handler.RejectOffer)
				r.Patch("/{id}/extend", handler.ExtendOffer)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", handler.ListOrders)
				r.Get("/{id}", handler.GetOrder)
				r.Patch("/{id}/status", handler.UpdateOrderStatus)
				r.Post("/{id}/initialize-payment", handler.InitializePayment)
				r.Get("/{id}/verify-payment", handler.VerifyPayment)
				r.Post("/{id}/confirm-delivery", handler.ConfirmDelivery)
			})

			r.Get("/notifications", handler.ListNotifications)
			r.Patch("/notifications/{id}/read", handler.MarkNotificationRead)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return &Server{Router: r}
}
