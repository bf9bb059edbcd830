package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adwatch/internal/db"
	"adwatch/internal/dedup"
	"adwatch/internal/fetch"
	"adwatch/internal/model"
	"adwatch/internal/poller"
	"adwatch/internal/store"
)

const testToken = "test-token"

func newTestAPI(t *testing.T) (*API, *store.Store) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	st := store.New(database)

	p := poller.New(poller.Options{
		Source:   fetch.NewMockSource(),
		Engine:   dedup.New(st, zerolog.Nop()),
		Settings: st,
		Defaults: model.SearchParams{Query: "default"},
		Interval: time.Hour,
		Logger:   zerolog.Nop(),
	})

	guard, err := NewGuard(testToken, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(Options{
		Store:  st,
		Poller: p,
		Guard:  guard,
		Logger: zerolog.Nop(),
	}), st
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Routes()

	for _, tt := range []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusUnauthorized},
		{testToken, http.StatusOK},
	} {
		w := doRequest(t, h, http.MethodGet, "/api/status", tt.token, "")
		if w.Code != tt.want {
			t.Errorf("token %q: status = %d; want %d", tt.token, w.Code, tt.want)
		}
	}
}

func TestStatusShape(t *testing.T) {
	api, _ := newTestAPI(t)
	w := doRequest(t, api.Routes(), http.MethodGet, "/api/status", testToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Run   poller.RunState `json:"run"`
		Stats model.Stats     `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stats.TotalSeen != 0 {
		t.Errorf("fresh store TotalSeen = %d; want 0", resp.Stats.TotalSeen)
	}
}

func TestItemsAndDetections(t *testing.T) {
	api, st := newTestAPI(t)
	h := api.Routes()

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := st.InsertIfAbsent(ctx, model.Listing{ID: id, Title: "t-" + id}); err != nil {
			t.Fatal(err)
		}
	}

	w := doRequest(t, h, http.MethodGet, "/api/items?limit=1", testToken, "")
	var items struct {
		Items []model.SeenEntry `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items.Items) != 1 {
		t.Errorf("items = %d; want limit of 1 respected", len(items.Items))
	}

	w = doRequest(t, h, http.MethodGet, "/api/detections", testToken, "")
	var dets struct {
		Detections []model.SeenEntry `json:"detections"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &dets); err != nil {
		t.Fatal(err)
	}
	if len(dets.Detections) != 2 {
		t.Errorf("detections = %d; want 2", len(dets.Detections))
	}
}

func TestCheckTriggerAndConflict(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Routes()

	w := doRequest(t, h, http.MethodPost, "/api/check", testToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("check = %d, body %s", w.Code, w.Body.String())
	}
	// Cooldown right after a completed run.
	w = doRequest(t, h, http.MethodPost, "/api/check", testToken, "")
	if w.Code != http.StatusConflict {
		t.Errorf("immediate re-check = %d; want 409", w.Code)
	}
}

func TestClear(t *testing.T) {
	api, st := newTestAPI(t)
	ctx := context.Background()
	if _, err := st.InsertIfAbsent(ctx, model.Listing{ID: "gone"}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, api.Routes(), http.MethodPost, "/api/clear", testToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}
	n, err := st.Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("Count after clear = %d, %v; want 0", n, err)
	}
}

func TestSearchRoundTrip(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Routes()

	w := doRequest(t, h, http.MethodGet, "/api/search", testToken, "")
	var params model.SearchParams
	if err := json.Unmarshal(w.Body.Bytes(), &params); err != nil {
		t.Fatal(err)
	}
	if params.Query != "default" {
		t.Errorf("initial search = %+v; want the configured default", params)
	}

	w = doRequest(t, h, http.MethodPut, "/api/search", testToken,
		`{"query":"bike","price_min":100,"price_max":500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put search = %d, body %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/api/search", testToken, "")
	if err := json.Unmarshal(w.Body.Bytes(), &params); err != nil {
		t.Fatal(err)
	}
	if params.Query != "bike" || params.PriceMin != 100 {
		t.Errorf("search after put = %+v", params)
	}
}

func TestSearchValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Routes()

	for _, body := range []string{
		`{"price_min":-1}`,
		`{"price_min":500,"price_max":100}`,
		`{"unknown_field":true}`,
	} {
		w := doRequest(t, h, http.MethodPut, "/api/search", testToken, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("put %s = %d; want 400", body, w.Code)
		}
	}
}

func TestCIDRAllowlistBlocksMutations(t *testing.T) {
	guard, err := NewGuard(testToken, []string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	if !guard.allowRemote("10.1.2.3:5000") {
		t.Error("10.1.2.3 should be allowed")
	}
	if guard.allowRemote("192.0.2.9:5000") {
		t.Error("192.0.2.9 should be blocked")
	}

	if _, err := NewGuard(testToken, []string{"not-a-cidr"}); err == nil {
		t.Error("invalid CIDR must be rejected")
	}
}
