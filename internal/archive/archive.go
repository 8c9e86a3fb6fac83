// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive persists rendered invoice documents and the invoice number
// counter in a single BoltDB file. Documents are write-once blobs keyed by
// invoice number; the counter is only updated through a compare-and-swap so
// that overlapping pipeline instances sharing the file can never issue the
// same number twice. Bolt serialises writers, which makes the read-compare-
// write inside one Update transaction atomic.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const (
	documentsBucket = "documents"
	counterBucket   = "counter"
	counterKey      = "last_invoice_number"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	// Permanent for a given key.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned when a put would overwrite an archived
	// document. Re-sends must go through the explicit resend flow, which
	// only reads.
	ErrAlreadyExists = errors.New("document already archived")

	// ErrConflict is returned by CompareAndSwapCounter when the stored
	// counter no longer matches the expected value. The caller re-reads
	// and retries.
	ErrConflict = errors.New("counter conflict")

	// ErrUnavailable wraps transient storage failures. Retryable.
	ErrUnavailable = errors.New("archive store unavailable")
)

// Store is a BoltDB-backed blob store with a durable invoice counter.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the archive file at the given path and ensures the
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(documentsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(counterBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create buckets: %v", ErrUnavailable, err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// DocumentKey derives the stable archive key for an invoice number.
// Deterministic so operators can look a document up from the number alone.
func DocumentKey(invoiceNumber int64) string {
	return fmt.Sprintf("invoices/%06d.pdf", invoiceNumber)
}

// PutDocument archives a rendered document under the given key, write-once.
// A second put of the same key returns ErrAlreadyExists and leaves the
// stored blob untouched.
func (s *Store) PutDocument(key string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(documentsBucket))
		if b.Get([]byte(key)) != nil {
			return ErrAlreadyExists
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// GetDocument retrieves an archived document by key.
func (s *Store) GetDocument(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(documentsBucket))
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// Bolt memory is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return data, nil
}

// LastIssued returns the last invoice number persisted by a successful swap.
// A fresh archive reports 0.
func (s *Store) LastIssued() (int64, error) {
	var last int64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(counterBucket)).Get([]byte(counterKey))
		if v != nil {
			last = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: read counter: %v", ErrUnavailable, err)
	}
	return last, nil
}

// CompareAndSwapCounter persists next as the last-issued number, but only if
// the stored value still equals expected. A stale read returns ErrConflict.
func (s *Store) CompareAndSwapCounter(expected, next int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(counterBucket))

		var current int64
		if v := b.Get([]byte(counterKey)); v != nil {
			current = int64(binary.BigEndian.Uint64(v))
		}
		if current != expected {
			return ErrConflict
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		return b.Put([]byte(counterKey), buf)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: swap counter: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping verifies the archive file is readable. Used by the health endpoint.
func (s *Store) Ping() error {
	_, err := s.LastIssued()
	return err
}
