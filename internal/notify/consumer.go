package notify

import (
	"context"

	"github.com/rs/zerolog"

	"adwatch/internal/model"
)

// Marker is the slice of the seen-set the consumer needs.
type Marker interface {
	MarkNotified(ctx context.Context, id string) error
}

// Consumer drains detected listings off a channel and pushes each one through
// the sink. Delivery is at-most-once: a listing is already in the seen-set
// before it reaches the channel, so a failed send is logged and dropped rather
// than retried — retrying here would risk duplicate messages, and the listing
// stays visible via the detections log either way.
type Consumer struct {
	sink  Sink
	store Marker
	log   zerolog.Logger
}

func NewConsumer(sink Sink, store Marker, log zerolog.Logger) *Consumer {
	return &Consumer{sink: sink, store: store, log: log}
}

// Run consumes listings until ch is closed or ctx is canceled.
func (c *Consumer) Run(ctx context.Context, ch <-chan model.Listing) {
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-ch:
			if !ok {
				return
			}
			c.deliver(ctx, l)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, l model.Listing) {
	if err := c.sink.Notify(ctx, l); err != nil {
		c.log.Error().Err(err).Str("item_id", l.ID).Msg("notification delivery failed")
		return
	}
	if err := c.store.MarkNotified(ctx, l.ID); err != nil {
		c.log.Error().Err(err).Str("item_id", l.ID).Msg("could not mark listing notified")
	}
}
