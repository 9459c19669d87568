// Package store is the cache/artifact blob store backing pipeline runs.
//
// Two families of blobs share one embedded BadgerDB:
//
//   - caches: keyed by a user template with variables substituted, surviving
//     across pipelines, strictly best effort. A miss or an IO error turns
//     into a cache-cold run, never a job failure.
//   - artifacts: keyed by (pipeline id, job name), guaranteed within one
//     pipeline. A declared dependency whose artifact cannot be fetched is a
//     fatal error for the dependent job.
//
// Writes are atomic per key; last writer wins.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by FetchArtifact when no artifact was published
// under the given pipeline and job.
var ErrNotFound = errors.New("artifact not found")

// Config selects where the store keeps its data.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Used by tests and the validate path.
	InMemory bool
	// Logger receives cache-degradation warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

// Store is a badger-backed blob store. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens or creates the store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func cacheKey(key string) []byte {
	return []byte("cache/" + key)
}

func artifactKey(pipelineID, jobName string) []byte {
	return []byte("artifact/" + pipelineID + "/" + jobName)
}

// FetchCache looks up a cache blob. Lookup failure of any kind degrades to a
// miss: the boolean is false and the job proceeds cache-cold.
func (s *Store) FetchCache(key string) ([]byte, bool) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("Cache fetch failed, treating as miss.", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// StoreCache writes a cache blob under the expanded key. Failures are logged
// and swallowed: caching is best effort on the write side too.
func (s *Store) StoreCache(key string, data []byte) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(key), data)
	})
	if err != nil {
		s.logger.Warn("Cache store failed, entry dropped.", "key", key, "error", err)
	}
}

// PublishArtifact stores a job's artifact blob. Unlike caches, a publish
// failure is returned: artifact delivery is guaranteed, so the producer must
// fail loudly rather than let a dependent discover the hole later.
func (s *Store) PublishArtifact(pipelineID, jobName string, data []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(artifactKey(pipelineID, jobName), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("publishing artifact %s/%s: %w", pipelineID, jobName, err)
	}
	return nil
}

// FetchArtifact retrieves a published artifact. Absence is ErrNotFound and is
// fatal to the caller when the producer was a declared dependency.
func (s *Store) FetchArtifact(pipelineID, jobName string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(pipelineID, jobName))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, pipelineID, jobName)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching artifact %s/%s: %w", pipelineID, jobName, err)
	}
	return data, nil
}
