package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Store is the dual-backend persistence layer: MySQL when DB is set, an
// in-process map-backed mode otherwise. Every method branches on
// MemoryMode so a developer can run the whole server without a database.
type Store struct {
	DB         *sql.DB
	MemoryMode bool
	mu         sync.RWMutex
	users      map[string]User
	games      map[string]Game
	members    map[string][]GameMember
	events     map[string][]StoredEvent
	nextSeq    map[string]int64
	snapshots  map[string]Snapshot
	dedups     map[string]DedupRecord
	trophies   map[string][]Trophy
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func NewMemoryStore() *Store {
	return &Store{
		MemoryMode: true,
		users:      make(map[string]User),
		games:      make(map[string]Game),
		members:    make(map[string][]GameMember),
		events:     make(map[string][]StoredEvent),
		nextSeq:    make(map[string]int64),
		snapshots:  make(map[string]Snapshot),
		dedups:     make(map[string]DedupRecord),
		trophies:   make(map[string][]Trophy),
	}
}

func ConnectMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.MemoryMode {
		return fn(nil)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

func (s *Store) Close() error {
	if s.MemoryMode {
		return nil
	}
	return s.DB.Close()
}
