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

package archive

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestDocumentKey verifies keys are deterministic and zero-padded.
func TestDocumentKey(t *testing.T) {
	if got := DocumentKey(42); got != "invoices/000042.pdf" {
		t.Errorf("DocumentKey(42) = %q", got)
	}
	if got := DocumentKey(1234567); got != "invoices/1234567.pdf" {
		t.Errorf("DocumentKey(1234567) = %q", got)
	}
}

// TestPutGetRoundTrip verifies stored bytes come back unchanged.
func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	data := []byte("%PDF-1.4 test document")
	if err := s.PutDocument("invoices/000001.pdf", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetDocument("invoices/000001.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

// TestPutWriteOnce verifies a second put of the same key is rejected and the
// original blob survives.
func TestPutWriteOnce(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutDocument("invoices/000007.pdf", []byte("original")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.PutDocument("invoices/000007.pdf", []byte("overwrite"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetDocument("invoices/000007.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("stored blob = %q, want original untouched", got)
	}
}

// TestGetNotFound verifies missing keys report ErrNotFound.
func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocument("invoices/999999.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

// TestCounterFreshStore verifies a new archive starts at zero.
func TestCounterFreshStore(t *testing.T) {
	s := newTestStore(t)
	last, err := s.LastIssued()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 0 {
		t.Errorf("fresh counter = %d, want 0", last)
	}
}

// TestCompareAndSwapCounter verifies the happy path and the stale-read
// conflict.
func TestCompareAndSwapCounter(t *testing.T) {
	s := newTestStore(t)

	if err := s.CompareAndSwapCounter(0, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CompareAndSwapCounter(1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Stale expected value must conflict and leave the counter untouched.
	if err := s.CompareAndSwapCounter(1, 3); !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}

	last, err := s.LastIssued()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 2 {
		t.Errorf("counter = %d, want 2", last)
	}
}

// TestCounterConcurrentSwaps verifies that racing writers each advance the
// counter exactly once per successful swap and never duplicate a value.
func TestCounterConcurrentSwaps(t *testing.T) {
	s := newTestStore(t)

	const racers = 8
	const perRacer = 5

	issued := make(chan int64, racers*perRacer)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perRacer; n++ {
				// Retry a stale read, as the allocator does.
				for {
					last, err := s.LastIssued()
					if err != nil {
						t.Errorf("read counter: %v", err)
						return
					}
					err = s.CompareAndSwapCounter(last, last+1)
					if err == nil {
						issued <- last + 1
						break
					}
					if !errors.Is(err, ErrConflict) {
						t.Errorf("swap counter: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(issued)

	seen := make(map[int64]bool)
	for n := range issued {
		if seen[n] {
			t.Fatalf("number %d issued twice", n)
		}
		seen[n] = true
	}
	if len(seen) != racers*perRacer {
		t.Fatalf("issued %d numbers, want %d", len(seen), racers*perRacer)
	}

	last, _ := s.LastIssued()
	if last != racers*perRacer {
		t.Errorf("final counter = %d, want %d", last, racers*perRacer)
	}
}
