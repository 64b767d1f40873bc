package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campusmarket/internal/store"

	"github.com/shopspring/decimal"
)

// query collects parse errors so a handler can report all bad parameters at
// once.
type query struct {
	values url.Values
	errs   []string
}

func newQuery(v url.Values) *query {
	return &query{values: v}
}

func (q *query) str(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

func (q *query) list(key string) []string {
	var out []string
	for _, raw := range q.values[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (q *query) int(key string) int {
	v := q.str(key)
	if v == "" {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		q.errs = append(q.errs, key+" must be an integer")
	}
	return i
}

func (q *query) int64Ptr(key string) *int64 {
	v := q.str(key)
	if v == "" {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		q.errs = append(q.errs, key+" must be an integer")
		return nil
	}
	return &i
}

func (q *query) floatPtr(key string) *float64 {
	v := q.str(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		q.errs = append(q.errs, key+" must be a number")
		return nil
	}
	return &f
}

func (q *query) decimal(key string) *decimal.Decimal {
	v := q.str(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		q.errs = append(q.errs, key+" must be a number")
		return nil
	}
	return &d
}

func (q *query) time(key string) *time.Time {
	v := q.str(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		q.errs = append(q.errs, key+" must be an RFC3339 timestamp")
		return nil
	}
	return &t
}

// maxWindowHours covers the longest request lifetime.
const maxWindowHours = 366 * 24

func (q *query) hours(key string) time.Duration {
	n := q.int(key)
	if n < 0 {
		q.errs = append(q.errs, key+" cannot be negative")
		return 0
	}
	if n > maxWindowHours {
		q.errs = append(q.errs, fmt.Sprintf("%s cannot exceed %d", key, maxWindowHours))
		return 0
	}
	return time.Duration(n) * time.Hour
}

func (q *query) page() store.Page {
	page := q.int("page")
	if page > store.MaxPage {
		q.errs = append(q.errs, fmt.Sprintf("page cannot exceed %d", store.MaxPage))
		page = 1
	}
	return store.NewPage(page, q.int("limit"))
}

func (q *query) oneOf(key string, allowed ...string) string {
	v := q.str(key)
	if v == "" {
		return ""
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	q.errs = append(q.errs, fmt.Sprintf("%s must be one of %s", key, strings.Join(allowed, ", ")))
	return ""
}

func (q *query) err() error {
	if len(q.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(q.errs, "; "))
}
