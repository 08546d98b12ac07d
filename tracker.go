/*
 * Copyright 2019 Dgraph Labs, Inc. and Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package s3fifo

import "sync"

// numTrackerShards controls how many independent locks the access tracker
// spreads its keys across. A power of two keeps shardOf's modulo cheap and
// the distribution even.
const numTrackerShards = 32

// trackerEntry is the per-key state the policy engine consults on every
// access: how many times a key has been observed, and when.
type trackerEntry struct {
	count      int64
	lastAccess int64
	admitted   int64
}

// accessTracker is a concurrent mapping from key to (count, last access
// logical time), sharded to keep lock contention proportional to the
// number of concurrently accessed keys rather than global.
type accessTracker struct {
	shards [numTrackerShards]trackerShard
	clock  int64 // monotonic logical clock, advanced under clockMu
	clockMu sync.Mutex
}

type trackerShard struct {
	mu      sync.Mutex
	entries map[string]*trackerEntry
}

func newAccessTracker() *accessTracker {
	t := &accessTracker{}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*trackerEntry)
	}
	return t
}

func (t *accessTracker) shardFor(k Key) *trackerShard {
	return &t.shards[shardOf(k, numTrackerShards)]
}

func (t *accessTracker) tick() int64 {
	t.clockMu.Lock()
	t.clock++
	now := t.clock
	t.clockMu.Unlock()
	return now
}

func (t *accessTracker) now() int64 {
	t.clockMu.Lock()
	now := t.clock
	t.clockMu.Unlock()
	return now
}

// observe records an access to k, incrementing its count and stamping its
// last-access logical time, and returns the new count.
func (t *accessTracker) observe(k Key) int64 {
	now := t.tick()
	s := t.shardFor(k)
	key := canon(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &trackerEntry{}
		s.entries[key] = e
	}
	e.count++
	e.lastAccess = now
	return e.count
}

// count returns k's current access count, 0 if k has never been observed.
func (t *accessTracker) count(k Key) int64 {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[canon(k)]
	if !ok {
		return 0
	}
	return e.count
}

// lastAccessTime returns the logical time k was last observed, and whether k
// has an entry at all.
func (t *accessTracker) lastAccessTime(k Key) (int64, bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[canon(k)]
	if !ok {
		return 0, false
	}
	return e.lastAccess, true
}

// reset sets k's count back to 0 and stamps a fresh admission time. Used
// when a key is newly admitted into Main after a cold miss.
func (t *accessTracker) reset(k Key) {
	now := t.now()
	s := t.shardFor(k)
	key := canon(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		s.entries[key] = &trackerEntry{lastAccess: now, admitted: now}
		return
	}
	e.count = 0
	e.admitted = now
}

// admittedAt returns the logical time k was last (re-)admitted, and
// whether k has an entry at all.
func (t *accessTracker) admittedAt(k Key) (int64, bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[canon(k)]
	if !ok {
		return 0, false
	}
	return e.admitted, true
}

// forget removes k's entry entirely, e.g. once it has been evicted for
// good and dropped from the ghost queue.
func (t *accessTracker) forget(k Key) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, canon(k))
}

// sweep removes every tracked entry whose last access is older than
// current - threshold logical ticks, returning the keys it dropped.
func (t *accessTracker) sweep(threshold int64) []string {
	now := t.now()
	var swept []string
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if now-e.lastAccess > threshold {
				delete(s.entries, k)
				swept = append(swept, k)
			}
		}
		s.mu.Unlock()
	}
	return swept
}
