package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"adwatch/internal/model"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSink posts each detection to a Telegram chat through the Bot API.
type TelegramSink struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

type TelegramOptions struct {
	Token  string
	ChatID string

	// APIBase overrides the Bot API host, for tests.
	APIBase string
	Timeout time.Duration
}

func NewTelegramSink(opts TelegramOptions) *TelegramSink {
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TelegramSink{
		apiBase: base,
		token:   opts.Token,
		chatID:  opts.ChatID,
		client:  &http.Client{Timeout: timeout},
	}
}

type telegramPayload struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableLinkPreviews bool   `json:"disable_web_page_preview"`
}

func (s *TelegramSink) Notify(ctx context.Context, l model.Listing) error {
	payload := telegramPayload{
		ChatID:    s.chatID,
		Text:      formatListing(l),
		ParseMode: "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func formatListing(l model.Listing) string {
	var b strings.Builder
	b.WriteString("🔔 <b>")
	b.WriteString(html.EscapeString(l.Title))
	b.WriteString("</b>\n")
	if l.Price != "" {
		b.WriteString("💰 ")
		b.WriteString(html.EscapeString(l.Price))
		b.WriteString("\n")
	}
	if l.Description != "" {
		b.WriteString(html.EscapeString(truncate(l.Description, 300)))
		b.WriteString("\n")
	}
	if l.Link != "" {
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(l.Link))
		b.WriteString(`">Open listing</a>`)
	}
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
