package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"apiremote/internal/types"

	_ "modernc.org/sqlite"
)

const (
	// DefaultSearchLimit is used when a query does not set a limit
	DefaultSearchLimit = 100
	// MaxSearchLimit caps the number of rows a single search returns
	MaxSearchLimit = 1000
)

// SQLiteStorage implements the EventStore interface using SQLite
type SQLiteStorage struct {
	db       *sql.DB
	inMemory bool
}

// NewSQLiteStorage creates a new SQLite storage instance. The events table is
// reset on open so the index only ever covers the current run.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db, inMemory: isMemoryPath(dbPath)}

	if storage.inMemory {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		err = storage.configureBasicMode()
	} else {
		err = storage.configureWALMode()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := storage.initializeDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return storage, nil
}

func isMemoryPath(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// configureWALMode configures a file-backed database to use WAL mode
func (s *SQLiteStorage) configureWALMode() error {
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// NORMAL syncs the WAL on checkpoint, not on every transaction
	if _, err := s.db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("failed to enable WAL mode, current mode: %s", journalMode)
	}

	return nil
}

// configureBasicMode configures an in-memory database
func (s *SQLiteStorage) configureBasicMode() error {
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return nil
}

// initializeDatabase creates the events table and its indexes
func (s *SQLiteStorage) initializeDatabase() error {
	// Hard reset: the index is scoped to a single process run
	if _, err := s.db.Exec("DROP TABLE IF EXISTS events"); err != nil {
		return fmt.Errorf("failed to drop old events table: %w", err)
	}

	createEventsTable := `
	CREATE TABLE events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL, -- unix nanoseconds
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT, -- JSON string
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := s.db.Exec(createEventsTable); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX idx_events_timestamp ON events(timestamp);",
		"CREATE INDEX idx_events_level ON events(level);",
		"CREATE INDEX idx_events_event_id ON events(event_id);",
		"CREATE INDEX idx_events_timestamp_level ON events(timestamp, level);",
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

const insertEventSQL = `
	INSERT INTO events (event_id, timestamp, level, message, data)
	VALUES (?, ?, ?, ?, ?)
	`

// Store saves a detailed entry to the database
func (s *SQLiteStorage) Store(entry *types.DetailedEntry) error {
	data, err := encodeData(entry.Data)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(insertEventSQL,
		entry.ID, entry.Timestamp.UnixNano(), string(entry.Level), entry.Message, data); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// StoreBatch saves entries in a single transaction. Either all entries are
// stored or none are.
func (s *SQLiteStorage) StoreBatch(entries []*types.DetailedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(insertEventSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		data, err := encodeData(entry.Data)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(entry.ID, entry.Timestamp.UnixNano(), string(entry.Level), entry.Message, data); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to store event %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

// Search retrieves entries based on the provided query, newest first
func (s *SQLiteStorage) Search(query types.EventQuery) ([]*types.DetailedEntry, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `SELECT event_id, timestamp, level, message, data FROM events`

	if query.Text != "" {
		conditions = append(conditions, "(message LIKE ? OR data LIKE ?)")
		pattern := "%" + query.Text + "%"
		args = append(args, pattern, pattern)
	}

	if query.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(query.Level))
	}

	if query.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.StartTime.UnixNano())
	}

	if query.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.EndTime.UnixNano())
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(query.Limit))

	if query.Offset > 0 {
		baseQuery += " OFFSET ?"
		args = append(args, query.Offset)
	}

	rows, err := s.db.Query(baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	entries := make([]*types.DetailedEntry, 0)
	for rows.Next() {
		entry := &types.DetailedEntry{}
		var timestamp int64
		var level string
		var data sql.NullString

		if err := rows.Scan(&entry.ID, &timestamp, &level, &entry.Message, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		entry.Timestamp = time.Unix(0, timestamp)
		entry.Level = types.Level(level)

		if data.Valid && data.String != "" {
			var decoded interface{}
			if err := json.Unmarshal([]byte(data.String), &decoded); err == nil {
				entry.Data = decoded
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}

	return entries, nil
}

// Count returns the number of indexed entries
func (s *SQLiteStorage) Count() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if !s.inMemory {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Printf("Warning: failed to checkpoint WAL during close: %v\n", err)
		}
	}
	return s.db.Close()
}

func encodeData(data interface{}) (sql.NullString, error) {
	if data == nil {
		return sql.NullString{}, nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return sql.NullString{String: string(jsonBytes), Valid: true}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
