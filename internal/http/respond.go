package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"campusmarket/internal/notify"
	"campusmarket/internal/services"
	"campusmarket/internal/store"

	"go.uber.org/zap"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Results *int   `json:"results,omitempty"`
	Total   *int64 `json:"total,omitempty"`
	Page    *int   `json:"page,omitempty"`
	Pages   *int   `json:"pages,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: statusSuccess, Data: data})
}

// writeList wraps a page of items; data is always a JSON array.
func writeList[T any](w http.ResponseWriter, items []T, total int64, page store.Page) {
	if items == nil {
		items = []T{}
	}
	page = store.NewPage(page.Page, page.Limit)
	n := len(items)
	pages := page.Pages(total)
	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Results: &n,
		Total:   &total,
		Page:    &page.Page,
		Pages:   &pages,
		Data:    items,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	s := statusFail
	if status >= http.StatusInternalServerError {
		s = statusError
	}
	writeJSON(w, status, envelope{Status: s, Message: msg})
}

func statusFor(err error) int {
	if errors.Is(err, notify.ErrNotFound) {
		return http.StatusNotFound
	}
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// fail writes a service error. Internal details only reach the client
// outside production.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	var se *services.Error
	if errors.As(err, &se) {
		msg = se.Message
	}
	if errors.Is(err, notify.ErrNotFound) {
		msg = "notification not found"
	}
	if status >= http.StatusInternalServerError {
		h.log().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if h.Production {
			msg = "something went wrong"
		} else {
			msg = err.Error()
		}
	}
	writeError(w, status, msg)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}
