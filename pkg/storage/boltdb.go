package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRuns     = []byte("runs")
	bucketServices = []byte("service_states")
	bucketVolumes  = []byte("volumes")
	bucketMeta     = []byte("meta")

	keyLatestRun = []byte("latest_run")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the journal database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "stackd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketRuns, bucketServices, bucketVolumes, bucketMeta}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveRun stores a run record and marks it as the latest.
func (s *BoltStore) SaveRun(run *RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		if err := tx.Bucket(bucketRuns).Put([]byte(run.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyLatestRun, []byte(run.ID))
	})
}

// GetRun retrieves a run record by ID.
func (s *BoltStore) GetRun(id string) (*RunRecord, error) {
	var run *RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run not found: %s", id)
		}
		run = &RunRecord{}
		return json.Unmarshal(data, run)
	})
	return run, err
}

// LatestRun retrieves the most recently saved run record.
func (s *BoltStore) LatestRun() (*RunRecord, error) {
	var run *RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketMeta).Get(keyLatestRun)
		if id == nil {
			return fmt.Errorf("no runs recorded")
		}
		data := tx.Bucket(bucketRuns).Get(id)
		if data == nil {
			return fmt.Errorf("run not found: %s", id)
		}
		run = &RunRecord{}
		return json.Unmarshal(data, run)
	})
	return run, err
}

func serviceKey(runID, name string) []byte {
	return []byte(runID + "/" + name)
}

// SaveServiceState stores a service's state within a run.
func (s *BoltStore) SaveServiceState(rec *ServiceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal service state: %w", err)
		}
		return tx.Bucket(bucketServices).Put(serviceKey(rec.RunID, rec.Name), data)
	})
}

// ListServiceStates returns all service records for a run.
func (s *BoltStore) ListServiceStates(runID string) ([]*ServiceRecord, error) {
	var records []*ServiceRecord
	prefix := []byte(runID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketServices).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rec := &ServiceRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("failed to unmarshal service state: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// SaveVolume stores a volume record.
func (s *BoltStore) SaveVolume(rec *VolumeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal volume: %w", err)
		}
		return tx.Bucket(bucketVolumes).Put([]byte(rec.Name), data)
	})
}

// GetVolume retrieves a volume record by name.
func (s *BoltStore) GetVolume(name string) (*VolumeRecord, error) {
	var rec *VolumeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVolumes).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("volume not found: %s", name)
		}
		rec = &VolumeRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// DeleteVolume removes a volume record.
func (s *BoltStore) DeleteVolume(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Delete([]byte(name))
	})
}
