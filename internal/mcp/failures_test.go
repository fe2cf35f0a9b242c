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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureTrackerRecordAndClear(t *testing.T) {
	tracker := NewFailureTracker()

	_, ok := tracker.Get("search")
	require.False(t, ok, "fresh tracker should have no records")

	rec := tracker.RecordFailure("search", errors.New("connection refused"))
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "connection refused", rec.LastError)

	rec = tracker.RecordFailure("search", errors.New("timeout"))
	assert.Equal(t, 2, rec.Attempts, "consecutive failures increment")
	assert.Equal(t, "timeout", rec.LastError)

	tracker.Clear("search")
	_, ok = tracker.Get("search")
	assert.False(t, ok, "cleared server should have no record")

	// A failure after clearing starts counting from one again.
	rec = tracker.RecordFailure("search", errors.New("refused again"))
	assert.Equal(t, 1, rec.Attempts)
}

func TestFailureTrackerSnapshotIsCopy(t *testing.T) {
	tracker := NewFailureTracker()
	tracker.RecordFailure("a", errors.New("boom"))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)

	// Mutating the snapshot must not affect the tracker.
	delete(snap, "a")
	_, ok := tracker.Get("a")
	assert.True(t, ok)
}

func TestFailureTrackerEligible(t *testing.T) {
	policy := BackoffPolicy{Base: 10 * time.Second, Multiplier: 2, Max: time.Minute}

	tracker := NewFailureTracker()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tracker.now = func() time.Time { return now }

	assert.True(t, tracker.Eligible("a", policy), "untracked server is always eligible")

	tracker.RecordFailure("a", errors.New("boom"))

	now = base.Add(5 * time.Second)
	assert.False(t, tracker.Eligible("a", policy), "inside backoff window")

	now = base.Add(10 * time.Second)
	assert.True(t, tracker.Eligible("a", policy), "window elapsed exactly")

	// Second failure doubles the window.
	tracker.RecordFailure("a", errors.New("boom"))
	failedAt := now

	now = failedAt.Add(15 * time.Second)
	assert.False(t, tracker.Eligible("a", policy))

	now = failedAt.Add(20 * time.Second)
	assert.True(t, tracker.Eligible("a", policy))
}

func TestFailureTrackerLen(t *testing.T) {
	tracker := NewFailureTracker()
	assert.Equal(t, 0, tracker.Len())

	tracker.RecordFailure("a", nil)
	tracker.RecordFailure("b", nil)
	tracker.RecordFailure("a", nil)
	assert.Equal(t, 2, tracker.Len())

	tracker.Clear("a")
	assert.Equal(t, 1, tracker.Len())
}
