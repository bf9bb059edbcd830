package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"adwatch/internal/db"
	"adwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database)
}

func testListing(id string, observed time.Time) model.Listing {
	return model.Listing{
		ID:         id,
		Title:      "listing " + id,
		Price:      "1000",
		Link:       "https://market.example/items/" + id,
		ObservedAt: observed,
	}
}

func TestInsertIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertIfAbsent(ctx, testListing("a1", time.Now()))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report true")
	}

	inserted, err = s.InsertIfAbsent(ctx, testListing("a1", time.Now()))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("duplicate id should report false")
	}

	exists, err := s.Exists(ctx, "a1")
	if err != nil || !exists {
		t.Fatalf("Exists(a1) = %v, %v; want true, nil", exists, err)
	}
	exists, err = s.Exists(ctx, "nope")
	if err != nil || exists {
		t.Fatalf("Exists(nope) = %v, %v; want false, nil", exists, err)
	}
}

func TestInsertIfAbsentConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	admitted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertIfAbsent(ctx, testListing("contended", time.Now()))
			if err != nil {
				t.Errorf("InsertIfAbsent: %v", err)
				return
			}
			admitted <- ok
		}()
	}
	wg.Wait()
	close(admitted)

	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("%d writers won; want exactly 1", wins)
	}

	got, err := s.Detections(ctx, 10)
	if err != nil {
		t.Fatalf("Detections: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("detection log has %d rows; want 1", len(got))
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		l := testListing(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))
		if _, err := s.InsertIfAbsent(ctx, l); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d; want 3", len(got))
	}
	if got[0].ID != "r4" || got[1].ID != "r3" || got[2].ID != "r2" {
		t.Errorf("order = %s,%s,%s; want r4,r3,r2", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[0].FirstSeenAt.IsZero() {
		t.Error("FirstSeenAt must round-trip")
	}
}

func TestMarkNotified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertIfAbsent(ctx, testListing("n1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkNotified(ctx, "n1"); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	// Idempotent, and a no-op for unknown ids.
	if err := s.MarkNotified(ctx, "n1"); err != nil {
		t.Fatalf("second MarkNotified: %v", err)
	}
	if err := s.MarkNotified(ctx, "ghost"); err != nil {
		t.Fatalf("MarkNotified(ghost): %v", err)
	}

	got, err := s.Recent(ctx, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("Recent: %v %v", got, err)
	}
	if !got[0].Notified {
		t.Error("entry should be marked notified")
	}
}

func TestCountsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := testListing("old", time.Now().Add(-48*time.Hour))
	recent := testListing("recent", time.Now().Add(-time.Hour))
	for _, l := range []model.Listing{old, recent} {
		if _, err := s.InsertIfAbsent(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	total, err := s.Count(ctx)
	if err != nil || total != 2 {
		t.Fatalf("Count = %d, %v; want 2", total, err)
	}
	lastDay, err := s.CountSince(ctx, 24*time.Hour)
	if err != nil || lastDay != 1 {
		t.Fatalf("CountSince(24h) = %d, %v; want 1", lastDay, err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalSeen != 2 || st.NewLastDay != 1 {
		t.Errorf("Stats = %+v; want total 2, last day 1", st)
	}
	if st.LastSeenAt.IsZero() {
		t.Error("LastSeenAt must be set once items exist")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertIfAbsent(ctx, testListing("c1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	total, err := s.Count(ctx)
	if err != nil || total != 0 {
		t.Fatalf("Count after Clear = %d, %v; want 0", total, err)
	}
	dets, err := s.Detections(ctx, 10)
	if err != nil || len(dets) != 0 {
		t.Fatalf("Detections after Clear = %d, %v; want 0", len(dets), err)
	}

	// The id is admittable again.
	inserted, err := s.InsertIfAbsent(ctx, testListing("c1", time.Now()))
	if err != nil || !inserted {
		t.Fatalf("re-insert after Clear = %v, %v; want true, nil", inserted, err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "search_params")
	if err != nil || ok {
		t.Fatalf("GetSetting on empty store = ok=%v, %v; want false, nil", ok, err)
	}

	if err := s.SetSetting(ctx, "search_params", `{"query":"bike"}`); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	v, ok, err := s.GetSetting(ctx, "search_params")
	if err != nil || !ok || v != `{"query":"bike"}` {
		t.Fatalf("GetSetting = %q, %v, %v", v, ok, err)
	}

	// Upsert overwrites.
	if err := s.SetSetting(ctx, "search_params", `{"query":"desk"}`); err != nil {
		t.Fatal(err)
	}
	v, _, _ = s.GetSetting(ctx, "search_params")
	if v != `{"query":"desk"}` {
		t.Errorf("after upsert = %q; want the new value", v)
	}
}

func TestStorageErrorWrapping(t *testing.T) {
	s := newTestStore(t)
	s.db.Close()

	_, err := s.Count(context.Background())
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error %v should be a *StorageError", err)
	}
	if se.Op != "count" {
		t.Errorf("Op = %q; want count", se.Op)
	}
}
