package reminders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var ErrNotFound = errors.New("reminder not found")

type Reminder struct {
	bun.BaseModel `bun:"table:reminders,alias:r"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Task      string    `bun:"task,notnull"`
	RemindAt  time.Time `bun:"reminder_time,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	Triggered bool      `bun:"triggered,notnull,default:false"`
}

// Timed reports whether the reminder has a firing time.
func (r Reminder) Timed() bool {
	return !r.RemindAt.IsZero()
}

// Store persists reminders with bun. Postgres DSNs use pgdriver, anything else is
// treated as a sqlite file path.
type Store struct {
	db *bun.DB
}

func OpenStore(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("reminder store dsn is required")
	}

	var db *bun.DB
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	} else {
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create reminder db dir: %w", err)
			}
		}
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open reminder sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*Reminder)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create reminders table: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, r *Reminder) error {
	if _, err := s.db.NewInsert().Model(r).Exec(ctx); err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Reminder, error) {
	r := new(Reminder)
	err := s.db.NewSelect().Model(r).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return r, nil
}

// Active lists untriggered reminders by firing time.
func (s *Store) Active(ctx context.Context) ([]Reminder, error) {
	var out []Reminder
	err := s.db.NewSelect().
		Model(&out).
		Where("triggered = ?", false).
		OrderExpr("reminder_time ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return out, nil
}

// MarkTriggered flips the triggered flag and reports whether this call did it.
func (s *Store) MarkTriggered(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*Reminder)(nil)).
		Set("triggered = ?", true).
		Where("id = ?", id).
		Where("triggered = ?", false).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark reminder %d triggered: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.NewDelete().
		Model((*Reminder)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete reminders: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
