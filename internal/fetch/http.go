package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adwatch/internal/model"
)

// HTTPSource fetches a search page over plain HTTP. It expects the JSON
// listings payload shape (either {"listings":[...]} or a bare array); page
// structure inference is out of scope, so markets that only serve HTML need
// the browser adapter instead.
type HTTPSource struct {
	base      string
	client    *http.Client
	userAgent string
}

type HTTPOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func NewHTTPSource(opts HTTPOptions) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "adwatch/1.0"
	}
	return &HTTPSource{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
	}
}

type wireListing struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Link        string `json:"link"`
	URL         string `json:"url"`
}

func (s *HTTPSource) Search(ctx context.Context, params model.SearchParams) ([]model.Listing, error) {
	target, err := SearchURL(s.base, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SoftError{Reason: err.Error()}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &SoftError{Reason: "rate limited", RetryAfter: retryAfterDuration(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &SoftError{Reason: "access refused (status 403)"}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("search request failed: status %d", resp.StatusCode)
	}

	var entries []wireListing
	var wrapped struct {
		Listings []wireListing `json:"listings"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		entries = wrapped.Listings
	} else if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("search payload parse: %w", err)
	}

	observed := time.Now().UTC()
	out := make([]model.Listing, 0, len(entries))
	for _, e := range entries {
		link := strings.TrimSpace(e.Link)
		if link == "" {
			link = strings.TrimSpace(e.URL)
		}
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = ListingID(link)
		}
		if id == "" {
			continue
		}
		out = append(out, model.Listing{
			ID:          id,
			Title:       strings.TrimSpace(e.Title),
			Price:       strings.TrimSpace(e.Price),
			Description: strings.TrimSpace(e.Description),
			Link:        link,
			ObservedAt:  observed,
		})
	}
	return out, nil
}

func retryAfterDuration(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 2 * time.Minute
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 1 {
			return 30 * time.Second
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		d := time.Until(when)
		if d < 30*time.Second {
			return 30 * time.Second
		}
		return d
	}
	return 2 * time.Minute
}
