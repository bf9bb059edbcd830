// Package fetch produces candidate listings for a saved search.
//
// A Source either returns candidates (possibly none), a *SoftError when the
// marketplace temporarily refused us (blocked, rate-limited) — which a caller
// should treat as "no information this cycle", not as zero listings — or a
// hard error for anything that will not fix itself by waiting.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adwatch/internal/model"
)

type Source interface {
	Search(ctx context.Context, params model.SearchParams) ([]model.Listing, error)
}

// SoftError marks a retrievable fetch failure.
type SoftError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *SoftError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("fetch temporarily refused: %s (retry after %s)", e.Reason, e.RetryAfter)
	}
	return "fetch temporarily refused: " + e.Reason
}

// IsSoft reports whether err is (or wraps) a SoftError.
func IsSoft(err error) bool {
	var se *SoftError
	return errors.As(err, &se)
}
