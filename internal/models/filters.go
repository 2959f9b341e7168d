package models

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	FilterStatus   = "status"
	FilterUrgency  = "urgency"
	FilterCategory = "category"
	FilterSearch   = "search"
)

// Categories lists the order categories known to the marketplace.
var Categories = []string{"plumbing", "electrical", "repair", "cleaning", "delivery"}

// Filters maps a filter key to its value. Empty values mean "no filter".
type Filters map[string]string

// Normalize returns a copy without empty values and with trimmed search text.
func (f Filters) Normalize() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Validate rejects unknown keys and values outside the known enumerations.
func (f Filters) Validate() error {
	for k, v := range f {
		if v == "" {
			continue
		}
		switch k {
		case FilterStatus:
			if !OrderStatus(v).Valid() {
				return fmt.Errorf("%w: unknown status filter %q", ErrInvalidInput, v)
			}
		case FilterUrgency:
			if !Urgency(v).Valid() {
				return fmt.Errorf("%w: unknown urgency filter %q", ErrInvalidInput, v)
			}
		case FilterCategory:
			if !validCategory(v) {
				return fmt.Errorf("%w: unknown category filter %q", ErrInvalidInput, v)
			}
		case FilterSearch:
		default:
			return fmt.Errorf("%w: unknown filter %q", ErrInvalidInput, k)
		}
	}
	return nil
}

// Key returns a canonical representation, equal for equal filter sets.
func (f Filters) Key() string {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f[k]))
	}
	return b.String()
}

// Clone returns an independent copy.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// FiltersFromQuery extracts the known filter keys from URL query values.
func FiltersFromQuery(q url.Values) Filters {
	f := Filters{}
	for _, k := range []string{FilterStatus, FilterUrgency, FilterCategory, FilterSearch} {
		if v := q.Get(k); v != "" {
			f[k] = v
		}
	}
	return f
}

func validCategory(v string) bool {
	for _, c := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Query identifies one page of a filtered collection.
type Query struct {
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
	Filters Filters `json:"filters,omitempty"`
}

func (q Query) Validate() error {
	if q.Page < 1 {
		return fmt.Errorf("%w: page must be positive, got %d", ErrInvalidInput, q.Page)
	}
	if q.Limit < 1 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, q.Limit)
	}
	return q.Filters.Validate()
}

// Key is equal for queries requesting the same page, limit and filters.
func (q Query) Key() string {
	return fmt.Sprintf("page=%d&limit=%d&%s", q.Page, q.Limit, q.Filters.Key())
}

// Values encodes the query for the orders endpoint.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("limit", strconv.Itoa(q.Limit))
	for k, val := range q.Filters.Normalize() {
		v.Set(k, val)
	}
	return v
}
