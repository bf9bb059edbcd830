package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"adwatch/internal/model"
)

// SeenStore is the durable record of every listing ever admitted as new.
// InsertIfAbsent is the sole admission primitive: it must be atomic under
// concurrent callers, with first-writer-wins semantics.
type SeenStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	InsertIfAbsent(ctx context.Context, l model.Listing) (bool, error)
	MarkNotified(ctx context.Context, id string) error
	Recent(ctx context.Context, limit int) ([]model.SeenEntry, error)
	Detections(ctx context.Context, limit int) ([]model.SeenEntry, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, d time.Duration) (int64, error)
	Stats(ctx context.Context) (model.Stats, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is the sqlite-backed SeenStore.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM seen_items WHERE item_id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("exists", err)
	}
	return true, nil
}

// InsertIfAbsent admits the listing when its id has never been seen. The
// unique constraint on item_id is the source of truth; the detection log row
// is written in the same transaction so an admitted listing always has an
// audit record.
func (s *Store) InsertIfAbsent(ctx context.Context, l model.Listing) (bool, error) {
	firstSeen := l.ObservedAt
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	firstSeen = firstSeen.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO seen_items(item_id, title, price, description, link, first_seen_at, notified)
		VALUES(?,?,?,?,?,?,0)
		ON CONFLICT(item_id) DO NOTHING
	`, l.ID, l.Title, l.Price, l.Description, l.Link, firstSeen)
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO detections(item_id, title, price, description, link, found_at)
		VALUES(?,?,?,?,?,?)
	`, l.ID, l.Title, l.Price, l.Description, l.Link, firstSeen)
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrap("insert_if_absent", err)
	}
	return true, nil
}

// MarkNotified is idempotent and a no-op for unknown ids.
func (s *Store) MarkNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE seen_items SET notified=1 WHERE item_id=?`, id)
	return wrap("mark_notified", err)
}

func (s *Store) Recent(ctx context.Context, limit int) ([]model.SeenEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, title, price, description, link, first_seen_at, notified
		FROM seen_items
		ORDER BY first_seen_at DESC, id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, wrap("recent", err)
	}
	defer rows.Close()
	var out []model.SeenEntry
	for rows.Next() {
		var e model.SeenEntry
		var firstSeen any
		var notified int
		if err := rows.Scan(&e.ID, &e.Title, &e.Price, &e.Description, &e.Link, &firstSeen, &notified); err != nil {
			return nil, wrap("recent", err)
		}
		e.FirstSeenAt = parseDBTime(firstSeen)
		e.Notified = notified == 1
		out = append(out, e)
	}
	return out, wrap("recent", rows.Err())
}

// Detections reads the append-only detection log, most recent first.
func (s *Store) Detections(ctx context.Context, limit int) ([]model.SeenEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, title, price, description, link, found_at
		FROM detections
		ORDER BY found_at DESC, id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, wrap("detections", err)
	}
	defer rows.Close()
	var out []model.SeenEntry
	for rows.Next() {
		var e model.SeenEntry
		var foundAt any
		if err := rows.Scan(&e.ID, &e.Title, &e.Price, &e.Description, &e.Link, &foundAt); err != nil {
			return nil, wrap("detections", err)
		}
		e.FirstSeenAt = parseDBTime(foundAt)
		out = append(out, e)
	}
	return out, wrap("detections", rows.Err())
}

// Clear wipes both the seen-set and the detection log. Irreversible.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("clear", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_items`); err != nil {
		return wrap("clear", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM detections`); err != nil {
		return wrap("clear", err)
	}
	return wrap("clear", tx.Commit())
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_items`).Scan(&n)
	return n, wrap("count", err)
}

func (s *Store) CountSince(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := time.Now().Add(-d).UTC()
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_items WHERE first_seen_at > ?`, cutoff).Scan(&n)
	return n, wrap("count_since", err)
}

func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	total, err := s.Count(ctx)
	if err != nil {
		return st, err
	}
	lastDay, err := s.CountSince(ctx, 24*time.Hour)
	if err != nil {
		return st, err
	}
	st.TotalSeen = total
	st.NewLastDay = lastDay

	var lastSeen any
	err = s.db.QueryRowContext(ctx, `
		SELECT first_seen_at FROM seen_items ORDER BY first_seen_at DESC LIMIT 1
	`).Scan(&lastSeen)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, wrap("stats", err)
	}
	if err == nil {
		st.LastSeenAt = parseDBTime(lastSeen)
	}
	return st, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get_setting", err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings(key, value, updated_at) VALUES(?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP
	`, key, value)
	return wrap("set_setting", err)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func parseDBTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		return parseDBTimeString(t)
	case []byte:
		return parseDBTimeString(string(t))
	default:
		return time.Time{}
	}
}

func parseDBTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
