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

// Package sequence allocates invoice numbers. Allocation is a read-modify-
// write against the durable counter guarded by compare-and-swap: a stale
// read never produces a number, it produces a conflict and a retry. Numbers
// are strictly increasing and duplicate-free across concurrent allocators;
// numbers consumed by a message that later fails to render are retired, not
// reclaimed.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrPersistFailed means the new counter value could not be persisted. The
// allocation did not happen; no number was issued.
var ErrPersistFailed = errors.New("counter persist failed")

// maxCASAttempts bounds retries under allocator contention. Each retry
// re-reads the counter, so losing a race costs one round trip.
const maxCASAttempts = 10

// CounterStore is the durable counter the allocator owns. Implemented by
// archive.Store.
type CounterStore interface {
	LastIssued() (int64, error)
	// CompareAndSwapCounter persists next if the stored value still equals
	// expected, otherwise returns a conflict error.
	CompareAndSwapCounter(expected, next int64) error
}

// IsConflict reports whether a CAS attempt lost a race (as opposed to
// failing to persist). Wired to archive.ErrConflict at construction so this
// package does not depend on a concrete store.
type IsConflict func(error) bool

// Allocator issues strictly increasing, collision-free invoice numbers.
type Allocator struct {
	store      CounterStore
	isConflict IsConflict
}

// New creates an allocator over the given counter store.
func New(store CounterStore, isConflict IsConflict) *Allocator {
	return &Allocator{store: store, isConflict: isConflict}
}

// AllocateNext reserves and returns the next invoice number. The number is
// durable before it is returned: a persistence failure fails the allocation
// rather than handing out an unpersisted number.
func (a *Allocator) AllocateNext(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}

		last, err := a.store.LastIssued()
		if err != nil {
			return 0, fmt.Errorf("%w: read counter: %v", ErrPersistFailed, err)
		}

		next := last + 1
		err = a.store.CompareAndSwapCounter(last, next)
		if err == nil {
			return next, nil
		}
		if a.isConflict(err) {
			// Lost the race to another allocator; re-read and try again.
			slog.Debug("counter CAS conflict, retrying",
				"expected", last,
				"attempt", attempt+1,
			)
			continue
		}
		return 0, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	return 0, fmt.Errorf("%w: gave up after %d CAS conflicts", ErrPersistFailed, maxCASAttempts)
}
