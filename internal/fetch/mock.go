package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adwatch/internal/model"
)

// MockSource serves a fixed pool of fake listings for offline runs and tests.
// Each call returns the whole pool plus one never-before-seen listing, so a
// watcher pointed at it keeps detecting exactly one new item per cycle.
type MockSource struct {
	mu    sync.Mutex
	cycle int
}

func NewMockSource() *MockSource {
	return &MockSource{}
}

func (s *MockSource) Search(ctx context.Context, params model.SearchParams) ([]model.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cycle++
	n := s.cycle
	s.mu.Unlock()

	observed := time.Now().UTC()
	out := []model.Listing{
		{
			ID:         "mock-1001",
			Title:      "iPhone 13 128GB",
			Price:      "45000",
			Link:       "https://market.example/items/mock-1001",
			ObservedAt: observed,
		},
		{
			ID:         "mock-1002",
			Title:      "Mountain bike, barely used",
			Price:      "18500",
			Link:       "https://market.example/items/mock-1002",
			ObservedAt: observed,
		},
	}
	out = append(out, model.Listing{
		ID:         fmt.Sprintf("mock-cycle-%d", n),
		Title:      fmt.Sprintf("Fresh listing #%d", n),
		Price:      "100",
		Link:       fmt.Sprintf("https://market.example/items/mock-cycle-%d", n),
		ObservedAt: observed,
	})
	return out, nil
}
