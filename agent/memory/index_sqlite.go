package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const tableMemories = "memories"

// SQLiteIndex persists records with JSON encoded vectors and ranks them in process.
type SQLiteIndex struct {
	db *sql.DB
}

func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + tableMemories + ` (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create memory schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Insert(ctx context.Context, rec Record, vector []float32) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	emb, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+tableMemories+` (id, text, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Text, string(meta), string(emb), rec.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding, created_at FROM `+tableMemories+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			rec       Record
			meta, emb string
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &meta, &emb, &createdMs); err != nil {
			return nil, err
		}
		var stored []float32
		if err := json.Unmarshal([]byte(emb), &stored); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(meta), &rec.Metadata)
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		hits = append(hits, Hit{Record: rec, Score: CosineSimilarity(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(hits, k), nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
