package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketResults = []byte("results")

// Record is one terminal task outcome as consumed by the caller
type Record struct {
	TaskID     string         `json:"task_id"`
	Host       string         `json:"host"`
	Kind       string         `json:"kind"`
	Result     map[string]any `json:"result"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Journal persists terminal task results for the run report. It is scoped
// to one controller invocation; the backing file lives under the run's temp
// root and carries no durability expectations beyond the process lifetime.
type Journal struct {
	db *bolt.DB
}

// Open creates or opens a journal at path
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the journal
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordResult stores one terminal result, stamping FinishedAt when unset
func (j *Journal) RecordResult(rec *Record) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put([]byte(rec.TaskID), data)
	})
}

// GetResult returns the record for a task id, or nil when absent
func (j *Journal) GetResult(taskID string) (*Record, error) {
	var rec *Record

	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(taskID))
		if data == nil {
			return nil
		}

		rec = &Record{}
		return json.Unmarshal(data, rec)
	})

	return rec, err
}

// ListResults returns every recorded result
func (j *Journal) ListResults() ([]*Record, error) {
	var records []*Record

	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).ForEach(func(_, data []byte) error {
			rec := &Record{}
			if err := json.Unmarshal(data, rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})

	return records, err
}
