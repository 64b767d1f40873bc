package http

import (
	"io"
	"net/http"

	"campusmarket/internal/models"
	"campusmarket/internal/payments"
	"campusmarket/internal/services"
	"campusmarket/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r.URL.Query())
	f := store.OrderFilter{
		Role:   q.oneOf("role", "buyer", "seller"),
		Status: models.OrderStatus(q.str("status")),
		Page:   q.page(),
	}
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	items, total, err := h.Orders.ListMine(r.Context(), caller, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, items, total, f.Page)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	o, err := h.Orders.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

type statusBody struct {
	Status models.OrderStatus `json:"status"`
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	o, err := h.Orders.UpdateStatus(r.Context(), caller, chi.URLParam(r, "id"), body.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	session, err := h.Orders.InitializePayment(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, session)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	o, err := h.Orders.VerifyPayment(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	o, err := h.Orders.ConfirmDelivery(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

// PaymentWebhook needs the exact bytes the gateway signed, so the body is
// read raw instead of decoded.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	err = h.Orders.HandleWebhook(r.Context(), body, r.Header.Get(payments.SignatureHeader))
	if services.KindOf(err) == services.KindUnauthorized {
		h.log().Warn("webhook rejected", zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if err != nil {
		h.log().Error("webhook failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusSuccess, Message: "received"})
}
