package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			first_seen_at DATETIME NOT NULL,
			notified INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			found_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_seen_items_item_id ON seen_items(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_seen_items_first_seen ON seen_items(first_seen_at);`,
		`CREATE INDEX IF NOT EXISTS idx_detections_found_at ON detections(found_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
