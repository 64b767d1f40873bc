package http

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/services"
	"campusmarket/internal/store"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 25 << 20

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var in services.CreateRequestInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	req, err := h.Requests.Create(r.Context(), caller, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, req)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r.URL.Query())
	f := store.RequestFilter{
		Status:         models.RequestStatus(q.oneOf("status", string(models.RequestOpen), string(models.RequestFulfilled), string(models.RequestClosed))),
		CategoryID:     q.str("category"),
		CampusID:       q.str("campus"),
		RequesterID:    q.str("requester"),
		MinPrice:       q.decimal("minPrice"),
		MaxPrice:       q.decimal("maxPrice"),
		Tags:           q.list("tags"),
		Query:          q.str("q"),
		ExpiringWithin: q.hours("expiringInHours"),
		Popularity:     q.oneOf("popularity", models.PopularityHot, models.PopularityPopular, models.PopularityNew),
		Sort:           q.oneOf("sort", "newest", "oldest", "price_asc", "price_desc", "popular", "expiring"),
		Page:           q.page(),
	}
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := f.CampusID == "all"
	if all {
		f.CampusID = ""
	}

	caller, _ := callerFrom(r.Context())
	items, total, err := h.Requests.List(r.Context(), caller, f, all)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, items, total, f.Page)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	req, err := h.Requests.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, req)
}

func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var p services.RequestPatch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	req, err := h.Requests.Update(r.Context(), caller, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, req)
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	req, err := h.Requests.Delete(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, req)
}

type fulfillBody struct {
	OfferID string `json:"offerId"`
}

func (h *Handler) FulfillRequest(w http.ResponseWriter, r *http.Request) {
	var body fulfillBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	res, err := h.Requests.Fulfill(r.Context(), caller, chi.URLParam(r, "id"), body.OfferID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

type extendBody struct {
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (b extendBody) validate() error {
	if b.ExpiresAt == nil {
		return errors.New("expiresAt is required")
	}
	return nil
}

func (h *Handler) ExtendRequest(w http.ResponseWriter, r *http.Request) {
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
	req, err := h.Requests.Extend(r.Context(), caller, chi.URLParam(r, "id"), *body.ExpiresAt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, req)
}

type imagesBody struct {
	URLs []string `json:"urls"`
}

// UploadImages accepts either a JSON body of urls or a multipart form with
// "images" file parts and optional "urls" fields.
func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request) {
	var (
		urls  []string
		files []services.ImageFile
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()
		urls = r.MultipartForm.Value["urls"]
		opened, err := openParts(r.MultipartForm.File["images"])
		defer func() {
			for _, f := range opened {
				f.Close()
			}
		}()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable image upload")
			return
		}
		for i, fh := range r.MultipartForm.File["images"] {
			files = append(files, services.ImageFile{Name: fh.Filename, Body: opened[i]})
		}
	} else {
		var body imagesBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		urls = body.URLs
	}

	caller, _ := callerFrom(r.Context())
	req, err := h.Requests.UploadImages(r.Context(), caller, chi.URLParam(r, "id"), urls, files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, req)
}

func openParts(headers []*multipart.FileHeader) ([]multipart.File, error) {
	out := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (h *Handler) RequestHistory(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r.URL.Query())
	f := store.HistoryFilter{
		Action: q.str("action"),
		From:   q.time("from"),
		To:     q.time("to"),
		Page:   q.page(),
	}
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := callerFrom(r.Context())
	entries, total, err := h.Requests.History(r.Context(), caller, chi.URLParam(r, "id"), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, entries, total, f.Page)
}
