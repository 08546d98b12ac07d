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

import "github.com/cespare/xxhash/v2"

// A Key is an opaque byte sequence. It is never interpreted numerically; it
// is only ever compared for equality or hashed for shard selection.
type Key []byte

// canon returns the canonical map-index form of a Key. Go strings are
// comparable and immutable, the natural stand-in for equality-only ordering
// on an opaque byte sequence.
func canon(k Key) string { return string(k) }

// shardOf hashes a key to pick one of n shards, used to spread lock
// contention across the access tracker.
func shardOf(k Key, n uint64) uint64 {
	return xxhash.Sum64(k) % n
}
