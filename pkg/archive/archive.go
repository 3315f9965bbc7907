package archive

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRevisions = []byte("revisions")

// Revision records one install/update of a bundle location: the resolved
// library paths loaded from its manifest and when it was installed. The
// manifest parser and archive extraction themselves are out of scope -
// Store only persists the bookkeeping the framework needs to survive a
// restart within a single process run.
type Revision struct {
	Location   string    `json:"location"`
	Number     int64     `json:"number"`
	InstalledAt time.Time `json:"installed_at"`
	Libraries  []string  `json:"libraries"`
}

// Store is the on-disk bundle archive cache: a location-keyed history of
// revisions, each an append (never an overwrite) so Bundle.Update can
// roll forward without losing the previous revision's library handles
// until they are explicitly unloaded.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bbolt-backed archive cache rooted at
// dataDir/bundles.db, mirroring the one-file-per-concern layout the
// framework's storage layer uses for everything else it persists.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "bundles.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRevisions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddRevision appends a new revision for location, returning its
// sequence number (0 for the first install of a location).
func (s *Store) AddRevision(location string, libraries []string, installedAt time.Time) (*Revision, error) {
	revs, err := s.Revisions(location)
	if err != nil {
		return nil, err
	}
	rev := &Revision{
		Location:    location,
		Number:      int64(len(revs)),
		InstalledAt: installedAt,
		Libraries:   libraries,
	}
	revs = append(revs, rev)
	data, err := json.Marshal(revs)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal revisions for %s: %w", location, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRevisions).Put([]byte(location), data)
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// Revisions returns every revision recorded for location, oldest first.
func (s *Store) Revisions(location string) ([]*Revision, error) {
	var revs []*Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRevisions).Get([]byte(location))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &revs)
	})
	return revs, err
}

// CurrentRevision returns the most recent revision for location, or nil
// if location has never been installed.
func (s *Store) CurrentRevision(location string) (*Revision, error) {
	revs, err := s.Revisions(location)
	if err != nil || len(revs) == 0 {
		return nil, err
	}
	return revs[len(revs)-1], nil
}

// Forget removes all revision history for location, called when a
// bundle is uninstalled rather than merely updated.
func (s *Store) Forget(location string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRevisions).Delete([]byte(location))
	})
}
