package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"adwatch/internal/model"
)

// PGStore is the postgres-backed SeenStore, for deployments where several
// watcher processes share one seen-set. Admission rides on the unique index,
// so first-writer-wins holds across processes, not just goroutines.
type PGStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrap("open", err)
	}
	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_items (
			id BIGSERIAL PRIMARY KEY,
			item_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			first_seen_at TIMESTAMPTZ NOT NULL,
			notified BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			item_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			found_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_items_first_seen ON seen_items(first_seen_at)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_found_at ON detections(found_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return wrap("migrate", err)
		}
	}
	return nil
}

func (s *PGStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM seen_items WHERE item_id=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("exists", err)
	}
	return true, nil
}

func (s *PGStore) InsertIfAbsent(ctx context.Context, l model.Listing) (bool, error) {
	firstSeen := l.ObservedAt
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	firstSeen = firstSeen.UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO seen_items(item_id, title, price, description, link, first_seen_at, notified)
		VALUES($1,$2,$3,$4,$5,$6,FALSE)
		ON CONFLICT (item_id) DO NOTHING
	`, l.ID, l.Title, l.Price, l.Description, l.Link, firstSeen)
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO detections(item_id, title, price, description, link, found_at)
		VALUES($1,$2,$3,$4,$5,$6)
	`, l.ID, l.Title, l.Price, l.Description, l.Link, firstSeen)
	if err != nil {
		return false, wrap("insert_if_absent", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, wrap("insert_if_absent", err)
	}
	return true, nil
}

func (s *PGStore) MarkNotified(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE seen_items SET notified=TRUE WHERE item_id=$1`, id)
	return wrap("mark_notified", err)
}

func (s *PGStore) Recent(ctx context.Context, limit int) ([]model.SeenEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, title, price, description, link, first_seen_at, notified
		FROM seen_items
		ORDER BY first_seen_at DESC, id DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, wrap("recent", err)
	}
	defer rows.Close()
	var out []model.SeenEntry
	for rows.Next() {
		var e model.SeenEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Price, &e.Description, &e.Link, &e.FirstSeenAt, &e.Notified); err != nil {
			return nil, wrap("recent", err)
		}
		e.FirstSeenAt = e.FirstSeenAt.UTC()
		out = append(out, e)
	}
	return out, wrap("recent", rows.Err())
}

func (s *PGStore) Detections(ctx context.Context, limit int) ([]model.SeenEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, title, price, description, link, found_at
		FROM detections
		ORDER BY found_at DESC, id DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, wrap("detections", err)
	}
	defer rows.Close()
	var out []model.SeenEntry
	for rows.Next() {
		var e model.SeenEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Price, &e.Description, &e.Link, &e.FirstSeenAt); err != nil {
			return nil, wrap("detections", err)
		}
		e.FirstSeenAt = e.FirstSeenAt.UTC()
		out = append(out, e)
	}
	return out, wrap("detections", rows.Err())
}

func (s *PGStore) Clear(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("clear", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM seen_items`); err != nil {
		return wrap("clear", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM detections`); err != nil {
		return wrap("clear", err)
	}
	return wrap("clear", tx.Commit(ctx))
}

func (s *PGStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM seen_items`).Scan(&n)
	return n, wrap("count", err)
}

func (s *PGStore) CountSince(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := time.Now().Add(-d).UTC()
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM seen_items WHERE first_seen_at > $1`, cutoff).Scan(&n)
	return n, wrap("count_since", err)
}

func (s *PGStore) Stats(ctx context.Context) (model.Stats, error) {
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

	var lastSeen time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT first_seen_at FROM seen_items ORDER BY first_seen_at DESC LIMIT 1
	`).Scan(&lastSeen)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return st, wrap("stats", err)
	}
	if err == nil {
		st.LastSeenAt = lastSeen.UTC()
	}
	return st, nil
}

func (s *PGStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get_setting", err)
	}
	return value, true, nil
}

func (s *PGStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_settings(key, value, updated_at) VALUES($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=now()
	`, key, value)
	return wrap("set_setting", err)
}
