package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/krisarmstrong/bacstack/pkg/bbmd"
)

const (
	runBucket    = "runs"
	bdtFDTBucket = "bdt_fdt"
	bdtFDTKey    = "snapshot"
)

// Storage wraps a BoltDB instance for persisting bacstackd run history and
// BBMD table snapshots across restarts.
type Storage struct {
	db *bbolt.DB
}

// RunRecord captures a single daemon start/stop cycle.
type RunRecord struct {
	ID                    uint64        `json:"id" yaml:"id"`
	StartedAt             time.Time     `json:"started_at" yaml:"started_at"`
	Duration              time.Duration `json:"duration" yaml:"duration"`
	ConfigName            string        `json:"config_name" yaml:"config_name"`
	PortsBound            int           `json:"ports_bound" yaml:"ports_bound"`
	NPDURouted            uint64        `json:"npdu_routed" yaml:"npdu_routed"`
	TransactionsCompleted uint64        `json:"transactions_completed" yaml:"transactions_completed"`
	Errors                uint64        `json:"errors" yaml:"errors"`
}

// BBMDSnapshot is the durable BDT/FDT state persisted across restarts
// (ASHRAE doesn't require this; it's purely an operational nicety). On
// start the daemon restores only the BDT from it; saved FDT entries are
// not re-installed, so foreign devices must register again.
type BBMDSnapshot struct {
	BDT []bbmd.BDTEntry `json:"bdt"`
	FDT []bbmd.FDTEntry `json:"fdt"`
}

// Open opens (or creates) the storage database at the requested path.
func Open(path string) (*Storage, error) {
	if strings.EqualFold(path, "disabled") || path == "" {
		return nil, errors.New("storage disabled")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bdtFDTBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddRun stores a run record.
func (s *Storage) AddRun(record RunRecord) error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runBucket))
		id, _ := b.NextSequence()
		record.ID = id

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// ListRuns returns the most recent run records up to the requested limit.
func (s *Storage) ListRuns(limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialised")
	}
	if limit <= 0 {
		limit = 20
	}

	records := make([]RunRecord, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// SaveBBMDSnapshot persists the current BDT/FDT state, overwriting any
// previously saved snapshot.
func (s *Storage) SaveBBMDSnapshot(snap BBMDSnapshot) error {
	if s == nil || s.db == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bdtFDTBucket)).Put([]byte(bdtFDTKey), data)
	})
}

// LoadBBMDSnapshot restores the most recently saved BDT/FDT state. It
// returns the zero value, no error, if no snapshot has ever been saved.
func (s *Storage) LoadBBMDSnapshot() (BBMDSnapshot, error) {
	var snap BBMDSnapshot
	if s == nil || s.db == nil {
		return snap, errors.New("storage not initialised")
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bdtFDTBucket)).Get([]byte(bdtFDTKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &snap)
	})
	return snap, err
}

func itob(v uint64) []byte {
	var b [8]byte
	for i := uint(0); i < 8; i++ {
		b[7-i] = byte(v >> (i * 8))
	}
	return b[:]
}
