package store

// PaginationConfig bounds collection reads.
type PaginationConfig struct {
	// DefaultLimit applies when the client sends no limit. 0 means unlimited.
	DefaultLimit int
	// MaxLimit caps any requested limit. 0 means uncapped.
	MaxLimit int
}

// DefaultPaginationConfig returns the limits used when none are configured.
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{
		DefaultLimit: 0,
		MaxLimit:     1000,
	}
}

// Paginator normalizes limit/offset pairs.
type Paginator struct {
	config PaginationConfig
}

// NewPaginatorWithConfig creates a paginator with custom configuration.
func NewPaginatorWithConfig(config PaginationConfig) *Paginator {
	return &Paginator{config: config}
}

// Window validates and clamps a requested limit and offset.
func (p *Paginator) Window(limit, offset int) (int, int, error) {
	if limit < 0 {
		return 0, 0, NewBadRequestError("limit must not be negative")
	}
	if offset < 0 {
		return 0, 0, NewBadRequestError("offset must not be negative")
	}
	if limit == 0 {
		limit = p.config.DefaultLimit
	}
	if p.config.MaxLimit > 0 && (limit == 0 || limit > p.config.MaxLimit) {
		limit = p.config.MaxLimit
	}
	return limit, offset, nil
}

// NextOffset returns the offset of the following page when a page of
// returned records was read with limit, given the total count.
func NextOffset(offset, limit, returned int, total int64) (int, bool) {
	if limit <= 0 || returned < limit {
		return 0, false
	}
	next := offset + returned
	if total >= 0 && int64(next) >= total {
		return 0, false
	}
	return next, true
}
