package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"adwatch/internal/model"
)

// BrowserSource drives a headless Chrome through the marketplace search page.
// The marketplace renders listings client-side and fronts them with bot
// checks, so a plain HTTP GET usually gets a challenge page instead of cards.
type BrowserSource struct {
	base      string
	userAgent string
	timeout   time.Duration
	log       zerolog.Logger
}

type BrowserOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

func NewBrowserSource(opts BrowserOptions) *BrowserSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return &BrowserSource{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		userAgent: ua,
		timeout:   timeout,
		log:       opts.Logger,
	}
}

// blockedMarkers are phrases the marketplace serves instead of results when it
// decides the client looks automated. Matching any of them means this cycle
// learned nothing, not that the search is empty.
var blockedMarkers = []string{
	"доступ ограничен",
	"проблема с ip",
	"access denied",
	"are you a robot",
	"captcha",
}

type browserCard struct {
	ItemID      string `json:"itemId"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

func (s *BrowserSource) Search(ctx context.Context, params model.SearchParams) ([]model.Listing, error) {
	target, err := SearchURL(s.base, params)
	if err != nil {
		return nil, err
	}

	chromeBin := findChromeBinary()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(s.userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.timeout)
	defer cancelTimeout()

	var bodyText string
	var cards []browserCard

	err = chromedp.Run(tabCtx,
		chromedp.Navigate(target),
		chromedp.Sleep(5*time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`document.body ? document.body.innerText.substring(0, 2000) : ''`, &bodyText),
		chromedp.Evaluate(`
			(function() {
				var results = [];
				var cards = document.querySelectorAll('div[data-marker="item"]');
				if (cards.length === 0) {
					cards = document.querySelectorAll('div[data-item-id]');
				}
				for (var i = 0; i < cards.length; i++) {
					var card = cards[i];
					var itemId = card.getAttribute('data-item-id') || '';

					var linkEl = card.querySelector('a[data-marker="item-title"]') ||
					             card.querySelector('a[itemprop="url"]') ||
					             card.querySelector('a[href*="/"]');
					var url = linkEl ? linkEl.href : '';
					var title = linkEl ? (linkEl.getAttribute('title') || linkEl.innerText).trim() : '';

					var priceEl = card.querySelector('[data-marker="item-price"]') ||
					              card.querySelector('meta[itemprop="price"]') ||
					              card.querySelector('span[class*="price"]');
					var price = '';
					if (priceEl) {
						price = (priceEl.getAttribute('content') || priceEl.innerText || '').trim();
					}

					var descEl = card.querySelector('[data-marker="item-description"]') ||
					             card.querySelector('meta[itemprop="description"]') ||
					             card.querySelector('div[class*="description"]');
					var description = '';
					if (descEl) {
						description = (descEl.getAttribute('content') || descEl.innerText || '').trim().substring(0, 500);
					}

					if (!url && !itemId) continue;
					results.push({
						itemId: itemId,
						title: title,
						price: price,
						description: description,
						url: url
					});
				}
				return results;
			})()
		`, &cards),
	)
	if err != nil {
		return nil, fmt.Errorf("browser search: %w", err)
	}

	lowered := strings.ToLower(bodyText)
	for _, marker := range blockedMarkers {
		if strings.Contains(lowered, marker) {
			return nil, &SoftError{Reason: "blocked page served (" + marker + ")", RetryAfter: 10 * time.Minute}
		}
	}

	observed := time.Now().UTC()
	out := make([]model.Listing, 0, len(cards))
	for _, c := range cards {
		id := strings.TrimSpace(c.ItemID)
		if id == "" {
			id = ListingID(c.URL)
		}
		if id == "" {
			continue
		}
		out = append(out, model.Listing{
			ID:          id,
			Title:       strings.TrimSpace(c.Title),
			Price:       strings.TrimSpace(c.Price),
			Description: strings.TrimSpace(c.Description),
			Link:        strings.TrimSpace(c.URL),
			ObservedAt:  observed,
		})
	}
	s.log.Debug().Int("cards", len(out)).Str("url", target).Msg("browser search done")
	return out, nil
}

// findChromeBinary locates a Chrome/Chromium binary, preferring CHROME_BIN.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
