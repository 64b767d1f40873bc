package services

import (
	"fmt"
	"testing"

	"campusmarket/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", store.ErrNotFound, KindNotFound},
		{"conflict", fmt.Errorf("save: %w", store.ErrConflict), KindConflict},
		{"bad uuid text", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"}), KindValidation},
		{"unknown", fmt.Errorf("boom"), KindInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := KindOf(translate(c.err, "request")); got != c.want {
				t.Fatalf("expected %s, got %s", c.want, got)
			}
		})
	}
}

func TestValidIDs(t *testing.T) {
	if err := validIDs(ref("request", "6f1c7a0e-3b5d-4e2a-9c8f-1d2e3f4a5b6c"), ref("seller", ""), optRef("product", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := validIDs(ref("category", "books"), optRef("campus", strPtr("main")))
	if KindOf(err) != KindValidation || err.Error() != "category, campus must be a valid id" {
		t.Fatalf("unexpected error: %v", err)
	}
}
