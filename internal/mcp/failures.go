// Copyright 2025 Tom Barlow
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

package mcp

import (
	"sync"
	"time"
)

// FailureTracker records connection failures per server. Absence of a
// record means the server is not in a failed state. All methods are safe
// for concurrent use.
type FailureTracker struct {
	mu      sync.RWMutex
	records map[string]FailureRecord
	now     func() time.Time
}

// NewFailureTracker returns an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{
		records: make(map[string]FailureRecord),
		now:     time.Now,
	}
}

// RecordFailure registers a failed connection attempt for the server,
// incrementing the consecutive-attempt counter, and returns the updated
// record.
func (t *FailureTracker) RecordFailure(server string, cause error) FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.records[server]
	rec.Attempts++
	rec.LastAttempt = t.now()
	if cause != nil {
		rec.LastError = cause.Error()
	}
	t.records[server] = rec
	return rec
}

// Clear removes the server's failure record, marking it healthy.
func (t *FailureTracker) Clear(server string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, server)
}

// Get returns the server's failure record and whether one exists.
func (t *FailureTracker) Get(server string) (FailureRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[server]
	return rec, ok
}

// Snapshot returns a copy of all failure records.
func (t *FailureTracker) Snapshot() map[string]FailureRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]FailureRecord, len(t.records))
	for name, rec := range t.records {
		out[name] = rec
	}
	return out
}

// Eligible reports whether the server's backoff window has elapsed under
// the given policy as of now. A server with no record is always eligible.
func (t *FailureTracker) Eligible(server string, policy BackoffPolicy) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[server]
	if !ok {
		return true
	}
	return !t.now().Before(rec.NextRetry(policy))
}

// Len returns the number of servers currently tracked as failed.
func (t *FailureTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
