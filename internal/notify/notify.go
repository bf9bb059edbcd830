// Package notify forwards freshly detected listings to the person watching.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"adwatch/internal/model"
)

// Sink delivers one listing to its destination. A nil error means the
// destination accepted the message; it does not guarantee the user read it.
type Sink interface {
	Notify(ctx context.Context, l model.Listing) error
}

// LogSink writes each detection to the log. It is the fallback sink when no
// messenger is configured, and handy in development.
type LogSink struct {
	Log zerolog.Logger
}

func (s *LogSink) Notify(_ context.Context, l model.Listing) error {
	s.Log.Info().
		Str("item_id", l.ID).
		Str("title", l.Title).
		Str("price", l.Price).
		Str("link", l.Link).
		Msg("new listing")
	return nil
}
