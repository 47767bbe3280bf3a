package image

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/corvid-lang/corvid/vm"
)

// ErrNotFound indicates the requested code object is not in the store.
var ErrNotFound = errors.New("image: code object not found")

// Store is a content-addressed SQLite store for encoded code objects,
// keyed by their Hash. It backs ahead-of-time compilation caches and
// image distribution.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens (creating if needed) a store at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("image: opening store: %w", err)
	}

	// Busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("image: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS code_objects (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("image: creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put encodes and stores a code object, returning its content hash.
// Storing the same code twice is a no-op.
func (s *Store) Put(code *vm.CodeObject) (string, error) {
	h, err := Hash(code)
	if err != nil {
		return "", err
	}
	data, err := Encode(code)
	if err != nil {
		return "", err
	}
	key := hex.EncodeToString(h[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO code_objects (hash, name, data) VALUES (?, ?, ?)",
		key, code.Name, data,
	)
	if err != nil {
		return "", fmt.Errorf("image: storing %s: %w", code.Name, err)
	}
	return key, nil
}

// Get loads and decodes the code object with the given hash.
func (s *Store) Get(hash string) (*vm.CodeObject, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM code_objects WHERE hash = ?", hash,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("image: loading %s: %w", hash, err)
	}
	return Decode(data)
}

// Entry describes one stored code object.
type Entry struct {
	Hash string
	Name string
}

// List returns all stored entries ordered by name.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT hash, name FROM code_objects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("image: listing store: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Hash, &e.Name); err != nil {
			return nil, fmt.Errorf("image: scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a stored code object. Deleting a missing hash is not
// an error.
func (s *Store) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM code_objects WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("image: deleting %s: %w", hash, err)
	}
	return nil
}
