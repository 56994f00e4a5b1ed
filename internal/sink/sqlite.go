package sink

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/omochice/framechat/pkg/protocol"
)

// StoredPayload is one row of the SQLite sink.
type StoredPayload struct {
	ID         int64
	Name       string
	Type       protocol.FrameType
	Data       []byte
	ReceivedAt time.Time
}

// SQLite keeps received payloads as BLOB rows.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS received_payloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_received_at ON received_payloads(received_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Store implements the client's persistence sink.
func (s *SQLite) Store(name string, data []byte, ft protocol.FrameType) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO received_payloads (name, kind, data, size, received_at) VALUES (?, ?, ?, ?, ?)`,
		name, ft.String(), data, len(data), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store payload %s: %w", name, err)
	}
	return nil
}

// List returns stored payloads, oldest first.
func (s *SQLite) List() ([]StoredPayload, error) {
	rows, err := s.db.Query(`SELECT id, name, kind, data, received_at FROM received_payloads ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list payloads: %w", err)
	}
	defer rows.Close()

	var out []StoredPayload
	for rows.Next() {
		var (
			p    StoredPayload
			kind string
			at   int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &kind, &p.Data, &at); err != nil {
			return nil, fmt.Errorf("failed to scan payload: %w", err)
		}
		ft, err := protocol.ParseFrameType(kind)
		if err != nil {
			return nil, err
		}
		p.Type = ft
		p.ReceivedAt = time.UnixMilli(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
