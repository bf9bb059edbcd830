// Package dedup decides which freshly fetched listings are genuinely new.
package dedup

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"adwatch/internal/model"
)

// Admitter is the slice of the seen-set the engine needs: an atomic
// insert-if-absent keyed by listing id, first writer wins.
type Admitter interface {
	InsertIfAbsent(ctx context.Context, l model.Listing) (bool, error)
}

// Failure records a storage error against the one candidate it affected.
type Failure struct {
	Listing model.Listing
	Err     error
}

// Report summarizes one DetectNew batch.
type Report struct {
	Admitted   int
	Duplicates int
	Malformed  int
	Failures   []Failure
}

type Engine struct {
	store Admitter
	log   zerolog.Logger
}

func New(store Admitter, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// DetectNew partitions candidates into new and already-seen, persisting each
// admitted listing before it is returned. Guarantees, in input order:
//
//   - a candidate with an empty id is dropped, counted, never persisted;
//   - admission goes through InsertIfAbsent one candidate at a time, so a
//     duplicate id occurring twice in one batch admits only the first
//     occurrence, and concurrent batches admit any given id exactly once;
//   - a storage error excludes only that candidate; the rest of the batch
//     proceeds;
//   - every returned listing is already durable, so a crash after return can
//     cost at most a missed notification, never a duplicate one.
func (e *Engine) DetectNew(ctx context.Context, candidates []model.Listing) ([]model.Listing, Report) {
	var rep Report
	fresh := make([]model.Listing, 0, len(candidates))

	for _, c := range candidates {
		if strings.TrimSpace(c.ID) == "" {
			rep.Malformed++
			e.log.Debug().Str("link", c.Link).Msg("dropping candidate without id")
			continue
		}
		inserted, err := e.store.InsertIfAbsent(ctx, c)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{Listing: c, Err: err})
			e.log.Error().Err(err).Str("item_id", c.ID).Msg("seen-set admission failed")
			continue
		}
		if !inserted {
			rep.Duplicates++
			continue
		}
		rep.Admitted++
		fresh = append(fresh, c)
	}
	return fresh, rep
}
