// Package store keeps encoded Allot programs in a SQLite database, keyed by
// name and addressed by the SHA-256 of their encoding.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/allot/pkg/bytecode"
	"github.com/chazu/allot/vm"
)

var log = commonlog.GetLogger("allot.store")

// ErrProgramNotFound indicates the requested program doesn't exist
var ErrProgramNotFound = errors.New("program not found")

// Entry describes a stored program.
type Entry struct {
	Name    string
	Hash    string
	Size    int
	Created time.Time
}

// Store is a program database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		name    TEXT PRIMARY KEY,
		hash    TEXT NOT NULL,
		data    BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table: %w", err)
	}

	log.Debugf("opened program store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		log.Debugf("closing program store %s", s.path)
		return s.db.Close()
	}
	return nil
}

// Put encodes p and saves it under name, replacing any earlier program.
// It returns the content hash.
func (s *Store) Put(name string, p vm.Program) (string, error) {
	data, err := bytecode.Encode(p)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO programs (name, hash, data, created) VALUES (?, ?, ?, ?)",
		name, hash, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("store: saving %s: %w", name, err)
	}
	log.Infof("stored %s (%s, %d bytes)", name, hash[:12], len(data))
	return hash, nil
}

// Get loads and decodes the program saved under name. The stored hash is
// checked against the data before decoding.
func (s *Store) Get(name string) (vm.Program, error) {
	var (
		hash string
		data []byte
	)
	err := s.db.QueryRow("SELECT hash, data FROM programs WHERE name = ?", name).Scan(&hash, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vm.Program{}, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
		}
		return vm.Program{}, fmt.Errorf("store: querying %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != hash {
		return vm.Program{}, fmt.Errorf("store: %s is corrupt: hash %s, recorded %s", name, got, hash)
	}
	return bytecode.Decode(data)
}

// List returns every stored program ordered by name.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT name, hash, length(data), created FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
		)
		if err := rows.Scan(&e.Name, &e.Hash, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("store: scanning row: %w", err)
		}
		e.Created = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the program saved under name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("store: deleting %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	return nil
}
