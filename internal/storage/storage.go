package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	CheckpointBucket = []byte("checkpoints")
	MetadataBucket   = []byte("metadata")
)

// ErrNotFound is returned when no checkpoint or metadata key exists.
var ErrNotFound = errors.New("storage: not found")

const LastFileKey = "last_file"

type CheckpointKind string

const (
	KindSave     CheckpointKind = "save"
	KindValidate CheckpointKind = "validate"
)

type Storage struct {
	db *bolt.DB
}

// Checkpoint summarises the ledger at the moment it was saved or validated.
type Checkpoint struct {
	Sequence    uint64         `json:"sequence"`
	Kind        CheckpointKind `json:"kind"`
	File        string         `json:"file"`
	Records     int            `json:"records"`
	TailHash    string         `json:"tail_hash"`
	Fingerprint string         `json:"fingerprint"`
	Valid       bool           `json:"valid"`
	FirstBad    int            `json:"first_bad"`
	Timestamp   time.Time      `json:"timestamp"`
}

func New(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{CheckpointBucket, MetadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Keys are file, NUL, zero-padded sequence. NUL cannot occur in a path.
func checkpointPrefix(file string) []byte {
	return []byte(file + "\x00")
}

func checkpointKey(file string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d", file, seq))
}

// SaveCheckpoint assigns the next sequence number to cp and stores it.
func (s *Storage) SaveCheckpoint(cp *Checkpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(CheckpointBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		cp.Sequence = seq

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}

		if err := bucket.Put(checkpointKey(cp.File, seq), data); err != nil {
			return err
		}

		return tx.Bucket(MetadataBucket).Put([]byte(LastFileKey), []byte(cp.File))
	})
}

// Checkpoints returns every checkpoint of file, oldest first.
func (s *Storage) Checkpoints(file string) ([]*Checkpoint, error) {
	var result []*Checkpoint

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(CheckpointBucket).Cursor()
		prefix := checkpointPrefix(file)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return fmt.Errorf("failed to unmarshal checkpoint %s: %w", k, err)
			}
			result = append(result, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LatestCheckpoint returns the newest checkpoint of file, optionally
// restricted to one kind. An empty kind matches any.
func (s *Storage) LatestCheckpoint(file string, kind CheckpointKind) (*Checkpoint, error) {
	var latest *Checkpoint

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(CheckpointBucket).Cursor()
		prefix := checkpointPrefix(file)

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				continue
			}
			if kind == "" || cp.Kind == kind {
				latest = &cp
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if latest == nil {
		return nil, fmt.Errorf("no checkpoints for %s: %w", file, ErrNotFound)
	}

	return latest, nil
}

func (s *Storage) GetMetadata(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(MetadataBucket)
		data := bucket.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("metadata key %s: %w", key, ErrNotFound)
		}
		value = string(data)
		return nil
	})

	return value, err
}

// LastFile returns the ledger file that most recently received a checkpoint.
func (s *Storage) LastFile() (string, error) {
	return s.GetMetadata(LastFileKey)
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}
