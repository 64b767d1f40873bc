package services

import (
	"errors"
	"fmt"
	"strings"

	"campusmarket/internal/db"
	"campusmarket/internal/models"
	"campusmarket/internal/store"

	"github.com/google/uuid"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	}
	return "internal"
}

// Error carries a client-safe message and the kind the HTTP layer maps to a
// status code.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func invalid(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func notFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// translate maps store and model sentinels onto service errors. what names
// the entity for not-found messages.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var ve models.ValidationErrors
	if errors.As(err, &ve) {
		return &Error{Kind: KindValidation, Message: ve.Error(), Err: err}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindConflict, Message: what + " was modified concurrently, reload and retry", Err: err}
	case errors.Is(err, store.ErrDuplicatePending):
		return &Error{Kind: KindValidation, Message: "you already have a pending offer on this request", Err: err}
	case errors.Is(err, store.ErrRequestNotOpen),
		errors.Is(err, store.ErrOffersNotAllowed),
		errors.Is(err, store.ErrSelfOffer),
		errors.Is(err, store.ErrOfferNotPending),
		errors.Is(err, store.ErrOfferExpired),
		errors.Is(err, models.ErrOrderNotPaid),
		errors.Is(err, models.ErrOrderAlreadyDelivered),
		errors.Is(err, models.ErrOrderAlreadyPaid):
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	case errors.Is(err, store.ErrNotRequester):
		return &Error{Kind: KindForbidden, Message: err.Error(), Err: err}
	case db.IsInvalidInput(err):
		return &Error{Kind: KindValidation, Message: "invalid " + what + " input", Err: err}
	}
	return internal("internal error", err)
}

type idField struct {
	name  string
	value string
}

func ref(name, value string) idField {
	return idField{name: name, value: value}
}

func optRef(name string, value *string) idField {
	if value == nil {
		return idField{name: name}
	}
	return idField{name: name, value: *value}
}

// validIDs rejects reference ids that are set but not uuids.
func validIDs(fields ...idField) error {
	var bad []string
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := uuid.Parse(f.value); err != nil {
			bad = append(bad, f.name)
		}
	}
	if len(bad) > 0 {
		return invalid(strings.Join(bad, ", ") + " must be a valid id")
	}
	return nil
}
