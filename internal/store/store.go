package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campusmarket/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("concurrent modification")
	ErrDuplicatePending = errors.New("seller already has a pending offer on this request")
	ErrRequestNotOpen   = errors.New("request is not open")
	ErrOffersNotAllowed = errors.New("request does not accept offers")
	ErrSelfOffer        = errors.New("cannot make an offer on your own request")
	ErrOfferNotPending  = errors.New("offer is not pending")
	ErrOfferExpired     = errors.New("offer has expired")
	ErrNotRequester     = errors.New("only the requester can perform this action")
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// notFound maps a missing row, or an id that cannot exist, to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidInput(err) {
		return ErrNotFound
	}
	return err
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func orderBy(sorts map[string]string, key, fallback string) string {
	if s, ok := sorts[key]; ok {
		return " ORDER BY " + s
	}
	return " ORDER BY " + sorts[fallback]
}
