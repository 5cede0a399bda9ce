// Package pagination reads zero-based page and size query parameters for the admin order
// listings.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/openshop/api/internal/platform/httpx"
)

const (
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPage     = errors.New("pagination: invalid page")
	ErrInvalidPageSize = errors.New("pagination: invalid size")
)

// Params is a zero-based page index and a page size.
type Params struct {
	Page int
	Size int
}

// Offset is the number of items on the pages before this one.
func (p Params) Offset() int { return p.Page * p.Size }

// Options sets the size used when the client sends none and the largest size honoured.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (defaultSize, maxSize int) {
	maxSize = o.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	defaultSize = o.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	return min(defaultSize, maxSize), maxSize
}

// Parse reads page and size. A negative or non-numeric page is rejected, as is a non-numeric
// size. A missing or non-positive size becomes the default and an oversized one is clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	defaultSize, maxSize := opts.limits()
	params := Params{Size: defaultSize}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPage, raw)
		case page < 0:
			return Params{}, fmt.Errorf("%w: must not be negative", ErrInvalidPage)
		}
		params.Page = page
	}

	if raw := strings.TrimSpace(values.Get("size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		}
		if size > 0 {
			params.Size = min(size, maxSize)
		}
	}
	if params.Page > math.MaxInt/params.Size {
		return Params{}, fmt.Errorf("%w: %d is out of range", ErrInvalidPage, params.Page)
	}
	return params, nil
}

type paramsKey struct{}

// Middleware parses paging once per request. Malformed values are answered with 400 and the
// handler is not called.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			params, err := Parse(r.URL.Query(), opts)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
				return
			}
			ctx := context.WithValue(r.Context(), paramsKey{}, params)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the parameters stored by Middleware.
func FromContext(ctx context.Context) (Params, bool) {
	params, ok := ctx.Value(paramsKey{}).(Params)
	return params, ok
}

// FromContextOrDefault returns the stored parameters, or the first page at the default size.
func FromContextOrDefault(ctx context.Context) Params {
	if params, ok := FromContext(ctx); ok && params.Size > 0 && params.Page >= 0 {
		return params
	}
	return Params{Size: DefaultPageSize}
}
