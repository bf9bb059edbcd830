package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adwatch/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	sent   []string
	failID string
}

func (s *recordingSink) Notify(_ context.Context, l model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == s.failID {
		return errors.New("sink down")
	}
	s.sent = append(s.sent, l.ID)
	return nil
}

type recordingMarker struct {
	mu     sync.Mutex
	marked []string
}

func (m *recordingMarker) MarkNotified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, id)
	return nil
}

func TestConsumerDeliversAndMarks(t *testing.T) {
	sink := &recordingSink{}
	marker := &recordingMarker{}
	c := NewConsumer(sink, marker, zerolog.Nop())

	ch := make(chan model.Listing, 3)
	ch <- model.Listing{ID: "a"}
	ch <- model.Listing{ID: "b"}
	close(ch)

	c.Run(context.Background(), ch)

	if len(sink.sent) != 2 || sink.sent[0] != "a" || sink.sent[1] != "b" {
		t.Errorf("sent = %v; want [a b] in order", sink.sent)
	}
	if len(marker.marked) != 2 {
		t.Errorf("marked = %v; want both listings marked", marker.marked)
	}
}

func TestConsumerDeliveryFailureIsNotRetried(t *testing.T) {
	sink := &recordingSink{failID: "bad"}
	marker := &recordingMarker{}
	c := NewConsumer(sink, marker, zerolog.Nop())

	ch := make(chan model.Listing, 3)
	ch <- model.Listing{ID: "bad"}
	ch <- model.Listing{ID: "good"}
	close(ch)

	c.Run(context.Background(), ch)

	if len(sink.sent) != 1 || sink.sent[0] != "good" {
		t.Errorf("sent = %v; want only good", sink.sent)
	}
	// The failed listing stays in the seen-set unnotified; it is never
	// re-queued and never marked.
	for _, id := range marker.marked {
		if id == "bad" {
			t.Error("failed delivery must not be marked notified")
		}
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	c := NewConsumer(&recordingSink{}, &recordingMarker{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, make(chan model.Listing))
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
