package allowlist

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCache persists the allow-list snapshot to a local SQLite file so
// the watcher/writer has a last-known-good set available on cold start
// before the first network refresh completes.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (and migrates) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("allowlist: open sqlite cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("allowlist: ping sqlite cache: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS allowlist_snapshot (
	account     TEXT PRIMARY KEY,
	fetched_at  INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("allowlist: migrate sqlite cache: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close releases the underlying connection.
func (c *SQLiteCache) Close() error { return c.db.Close() }

// Load returns the most recently saved account set.
func (c *SQLiteCache) Load() ([]string, error) {
	rows, err := c.db.Query(`SELECT account FROM allowlist_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("allowlist: query sqlite cache: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("allowlist: scan sqlite cache row: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// Save overwrites the cached snapshot with accounts.
func (c *SQLiteCache) Save(accounts []string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("allowlist: begin sqlite cache tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM allowlist_snapshot`); err != nil {
		return fmt.Errorf("allowlist: clear sqlite cache: %w", err)
	}

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`INSERT INTO allowlist_snapshot(account, fetched_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("allowlist: prepare sqlite cache insert: %w", err)
	}
	defer stmt.Close()

	for _, account := range accounts {
		account = strings.TrimSpace(account)
		if account == "" {
			continue
		}
		if _, err := stmt.Exec(account, now); err != nil {
			return fmt.Errorf("allowlist: insert sqlite cache row: %w", err)
		}
	}

	return tx.Commit()
}
