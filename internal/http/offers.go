package http

import (
	"context"
	"net/http"

	"campusmarket/internal/models"
	"campusmarket/internal/services"
	"campusmarket/internal/store"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var in services.CreateOfferInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	o, err := h.Offers.Create(r.Context(), caller, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, o)
}

func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r.URL.Query())
	f := store.OfferFilter{
		Status: models.OfferStatus(q.oneOf("status",
			string(models.OfferPending), string(models.OfferAccepted), string(models.OfferRejected),
			string(models.OfferWithdrawn), string(models.OfferCancelled))),
		RequestID:      q.str("request"),
		SellerID:       q.str("seller"),
		MinAmount:      q.decimal("minAmount"),
		MaxAmount:      q.decimal("maxAmount"),
		MinViews:       q.int64Ptr("minViews"),
		MaxViews:       q.int64Ptr("maxViews"),
		MinResponse:    q.floatPtr("minResponseTime"),
		MaxResponse:    q.floatPtr("maxResponseTime"),
		ExpiringWithin: q.hours("expiringInHours"),
		Acceptance:     q.oneOf("acceptance", models.AcceptanceLow, models.AcceptanceMedium, models.AcceptanceHigh),
		Sort:           q.oneOf("sort", "newest", "oldest", "amount_asc", "amount_desc", "views", "expiring"),
		Page:           q.page(),
	}
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	items, total, err := h.Offers.List(r.Context(), caller, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, items, total, f.Page)
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	o, err := h.Offers.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	var p services.OfferPatch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	o, err := h.Offers.Update(r.Context(), caller, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, v)
}

func (h *Handler) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	o, err := h.Offers.Withdraw(r.Context(), caller, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	res, err := h.Offers.Accept(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	o, err := h.Offers.Reject(r.Context(), caller, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (h *Handler) ExtendOffer(w http.ResponseWriter, r *http.Request) {
	var body extendBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	o, err := h.Offers.Extend(r.Context(), caller, chi.URLParam(r, "id"), *body.ExpiresAt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

type bulkBody struct {
	OfferIDs []string `json:"offerIds"`
	Reason   string   `json:"reason"`
}

func (h *Handler) BulkWithdraw(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.Offers.BulkWithdraw)
}

func (h *Handler) BulkReject(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, h.Offers.BulkReject)
}

type bulkFunc func(ctx context.Context, caller models.Caller, ids []string, reason string) (*services.BulkResult, error)

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request, fn bulkFunc) {
	var body bulkBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	res, err := fn(r.Context(), caller, body.OfferIDs, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
