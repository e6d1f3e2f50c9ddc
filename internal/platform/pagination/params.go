// Package pagination parses page/limit list parameters from query strings.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is used when the client omits limit.
	DefaultLimit = 10
	// DefaultMaxLimit caps limit to keep queries bounded.
	DefaultMaxLimit = 50
)

var (
	ErrInvalidPage  = errors.New("pagination: invalid page")
	ErrInvalidLimit = errors.New("pagination: invalid limit")
)

// Params is a 1-based page request.
type Params struct {
	Page  int
	Limit int
}

// Offset is the number of items preceding the page.
func (p Params) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Options control defaults for one endpoint.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Parse reads "page" and "limit". Limits above the maximum are clamped, not rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	params := Params{Page: 1, Limit: limit}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidPage)
		}
		params.Page = page
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			return Params{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidLimit)
		}
		if value > maxLimit {
			value = maxLimit
		}
		params.Limit = value
	}
	return params, nil
}

// TotalPages returns how many pages of limit hold total items.
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Values splits repeated and comma separated query values, dropping blanks and duplicates.
func Values(raw []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
