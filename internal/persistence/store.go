// Package persistence stores named save games in SQLite. The world state
// travels as one JSON memento per row; metadata columns exist so saves can
// be listed without decoding the blob.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"gridstead/internal/sim"
)

var ErrNotFound = errors.New("save not found")

const schema = `
CREATE TABLE IF NOT EXISTS saves (
	name     TEXT PRIMARY KEY,
	turn     INTEGER NOT NULL,
	seed     INTEGER NOT NULL,
	data     BLOB NOT NULL,
	saved_at TIMESTAMP NOT NULL
);`

type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite file at path, creating it and the schema as
// needed. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open save db: %w", err)
	}
	// modernc's driver mishandles concurrent writers on one connection pool
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveInfo is the listing row for one save slot.
type SaveInfo struct {
	Name    string    `db:"name" json:"name"`
	Turn    int       `db:"turn" json:"turn"`
	Seed    int64     `db:"seed" json:"seed"`
	SavedAt time.Time `db:"saved_at" json:"saved_at"`
}

// Save upserts a memento under the given slot name.
func (s *Store) Save(name string, m sim.Memento) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode save %s: %w", name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO saves (name, turn, seed, data, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			turn = excluded.turn,
			seed = excluded.seed,
			data = excluded.data,
			saved_at = excluded.saved_at`,
		name, m.Turn, m.Seed, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write save %s: %w", name, err)
	}
	return nil
}

// Load reads the memento stored under the slot name.
func (s *Store) Load(name string) (sim.Memento, error) {
	var data []byte
	err := s.db.Get(&data, `SELECT data FROM saves WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return sim.Memento{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return sim.Memento{}, fmt.Errorf("read save %s: %w", name, err)
	}
	var m sim.Memento
	if err := json.Unmarshal(data, &m); err != nil {
		return sim.Memento{}, fmt.Errorf("decode save %s: %w", name, err)
	}
	return m, nil
}

// List returns every save slot, most recent first.
func (s *Store) List() ([]SaveInfo, error) {
	var out []SaveInfo
	if err := s.db.Select(&out, `SELECT name, turn, seed, saved_at FROM saves ORDER BY saved_at DESC`); err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	return out, nil
}

// Delete removes a save slot. Deleting a missing slot is ErrNotFound.
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM saves WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete save %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
