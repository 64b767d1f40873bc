package http

import (
	"net/http"

	"campusmarket/internal/notify"
	"campusmarket/internal/push"
	"campusmarket/internal/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Requests      *services.RequestService
	Offers        *services.OfferService
	Orders        *services.OrderService
	Notifications *notify.Service
	Hub           *push.Hub
	Log           *zap.Logger
	// Production hides internal error detail from clients.
	Production bool
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Websocket registers the caller's connection with the push hub.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	if err := h.Hub.Serve(w, r, caller.UserID, caller.CampusID); err != nil {
		// Upgrade already replied to the client.
		h.log().Debug("websocket upgrade failed", zap.String("userID", caller.UserID), zap.Error(err))
	}
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if h.Notifications == nil || h.Notifications.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications are not configured")
		return
	}
	caller, _ := callerFrom(r.Context())
	q := newQuery(r.URL.Query())
	unread := q.str("unread") == "true"
	page := q.page()
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, total, err := h.Notifications.List(r.Context(), caller, unread, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, items, total, page)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if h.Notifications == nil || h.Notifications.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications are not configured")
		return
	}
	caller, _ := callerFrom(r.Context())
	n, err := h.Notifications.MarkRead(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, n)
}
