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

import (
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/scanresist/s3fifo/internal/store"
)

const (
	// PromotionProbability is the chance a qualifying hit in Main gets
	// promoted to Small outside of a ghost hit, which always promotes.
	PromotionProbability = 0.01
	// MinAccessCount is the access count a key in Main must reach before
	// the probabilistic promotion path considers it; the first hit never
	// promotes this way.
	MinAccessCount = 2
	// AgeThreshold is how many logical ticks a key in Small may go
	// unaccessed before it is eligible for quick demotion back to Main.
	AgeThreshold = 10000
)

// policy is the admission/promotion/eviction engine: the heart of the
// cache. It owns no storage of its own beyond the tracker; the three
// queues live in the backends it is handed.
type policy struct {
	small, main, ghost *store.Store

	tracker *accessTracker

	smallBudget, mainBudget, ghostBudget int64

	promotionProbability float64
	rng                   func() float64

	log *logrus.Logger

	metrics *Metrics
}

func newPolicy(small, main, ghost *store.Store, smallBudget, mainBudget, ghostBudget int64, log *logrus.Logger) *policy {
	return &policy{
		small:                small,
		main:                 main,
		ghost:                ghost,
		tracker:              newAccessTracker(),
		smallBudget:          smallBudget,
		mainBudget:           mainBudget,
		ghostBudget:          ghostBudget,
		promotionProbability: PromotionProbability,
		rng:                  rand.Float64,
		log:                  log,
		metrics:              newMetrics(),
	}
}

// get looks up k in Small, then Main, observing the access and running
// S3-FIFO's promotion rule on a qualifying Main hit.
func (p *policy) get(k Key) ([]byte, bool, error) {
	hash := shardOf(k, 256)

	if p.small.Contains(k) {
		v, ok := p.small.Get(k)
		if !ok {
			// Contains and Get raced with a concurrent delete; treat as miss
			// rather than surfacing an inconsistency to the caller.
			p.metrics.add(miss, hash, 1)
			return nil, false, nil
		}
		p.tracker.observe(k)
		p.metrics.add(hit, hash, 1)
		return v, true, nil
	}

	if p.main.Contains(k) {
		v, ok := p.main.Get(k)
		if !ok {
			p.metrics.add(miss, hash, 1)
			return nil, false, nil
		}
		count := p.tracker.observe(k)
		p.metrics.add(hit, hash, 1)

		if p.ghost.Contains(k) {
			// Ghost hits bypass PromotionProbability entirely.
			p.promote(k, v, hash)
			return v, true, nil
		}

		if count > 1 && p.rng() < p.promotionProbability {
			p.promote(k, v, hash)
			return v, true, nil
		}

		return v, true, nil
	}

	p.metrics.add(miss, hash, 1)
	return nil, false, nil
}

// promote moves (k, v) from Main into Small, clearing any ghost entry for
// k, and runs the Small eviction cascade if that pushed Small over budget.
// Backend failures here are logged and left in place: a promotion that
// fails leaves k resident in Main, which is a safe fallback.
func (p *policy) promote(k Key, v []byte, hash uint64) {
	if err := p.small.Put(k, v); err != nil {
		p.log.WithError(err).WithField("key", canon(k)).Warn("promotion to small queue failed")
		return
	}
	if err := p.main.Delete(k); err != nil {
		p.log.WithError(err).WithField("key", canon(k)).Warn("failed to remove promoted key from main queue")
	}
	if err := p.ghost.Delete(k); err != nil {
		p.log.WithError(err).WithField("key", canon(k)).Warn("failed to clear ghost entry on promotion")
	}
	p.metrics.add(keyAdd, hash, 1)
	p.smallEviction()
}

// put admits (k, v) into Main, or refreshes it in place if k is already
// resident in Small, then triggers Main eviction if that pushed Main over
// budget.
func (p *policy) put(k Key, v []byte) error {
	hash := shardOf(k, 256)

	// A key already resident in Small is overwritten there and left alone:
	// also writing it into Main would put it in both queues at once,
	// which invariant 1 forbids. Everything else lands in Main, per spec.
	if p.small.Contains(k) {
		if err := p.small.Put(k, v); err != nil {
			return backendErr("small", "put", err)
		}
		p.metrics.add(keyUpdate, hash, 1)
		return nil
	}

	existed := p.main.Contains(k)
	if err := p.main.Put(k, v); err != nil {
		return backendErr("main", "put", err)
	}
	if existed {
		p.metrics.add(keyUpdate, hash, 1)
	} else {
		p.metrics.add(keyAdd, hash, 1)
		p.tracker.reset(k)
	}

	if p.main.Size() > p.mainBudget {
		p.mainEviction()
	}
	return nil
}

// mainEviction evicts Main's oldest entries, one at a time, until Main is
// back within budget. An item not currently present in Small is "cold"
// and its bare key is appended to Ghost, per the S3-FIFO eviction algorithm.
func (p *policy) mainEviction() {
	for p.main.Size() > p.mainBudget {
		k, _, ok := p.main.IterOldest()
		if !ok {
			break
		}
		if !p.small.Contains(k) {
			if err := p.ghost.Put(k, nil); err != nil {
				p.log.WithError(err).WithField("key", string(k)).Warn("failed to record ghost entry on main eviction")
			} else {
				p.trimGhost()
			}
		}
		if err := p.main.Delete(k); err != nil {
			p.log.WithError(err).WithField("key", string(k)).Error("failed to delete evicted key from main queue")
			break
		}
		p.metrics.add(keyEvict, shardOf(k, 256), 1)
		if admitted, ok := p.tracker.admittedAt(k); ok {
			p.metrics.trackEviction(p.tracker.now() - admitted)
		}
		p.tracker.forget(k)
	}
}

// smallEviction evicts Small's oldest entries, one at a time, until Small
// is back within budget. An entry accessed at least once while resident
// graduates into Main; an untouched entry is cold and is demoted to a bare
// ghost key, its value discarded, per the S3-FIFO eviction algorithm.
func (p *policy) smallEviction() {
	for p.small.Size() > p.smallBudget {
		k, v, ok := p.small.IterOldest()
		if !ok {
			break
		}
		if p.tracker.count(k) > 0 {
			if err := p.main.Put(k, v); err != nil {
				p.log.WithError(err).WithField("key", string(k)).Warn("failed to graduate small queue entry into main")
				break
			}
		} else {
			if err := p.ghost.Put(k, nil); err != nil {
				p.log.WithError(err).WithField("key", string(k)).Warn("failed to record ghost entry on small eviction")
			} else {
				p.trimGhost()
			}
			p.metrics.add(keyEvict, shardOf(k, 256), 1)
			if admitted, ok := p.tracker.admittedAt(k); ok {
				p.metrics.trackEviction(p.tracker.now() - admitted)
			}
			p.tracker.forget(k)
		}
		if err := p.small.Delete(k); err != nil {
			p.log.WithError(err).WithField("key", string(k)).Error("failed to delete evicted key from small queue")
			break
		}
	}
}

// trimGhost drops Ghost's oldest key if Ghost is over budget. Must be
// called right after a Ghost insertion that may have pushed it over.
func (p *policy) trimGhost() {
	if p.ghost.Size() <= p.ghostBudget {
		return
	}
	k, _, ok := p.ghost.IterOldest()
	if !ok {
		return
	}
	if err := p.ghost.Delete(k); err != nil {
		p.log.WithError(err).WithField("key", string(k)).Warn("failed to trim oldest ghost entry")
		return
	}
	p.tracker.forget(k)
}

// quickDemoteSweep is a periodic background pass that catches entries
// sitting stale in Small between evictions: a key that has gone unaccessed
// for longer than AgeThreshold, or was accessed fewer than MinAccessCount
// times, is demoted straight into Main (its value is preserved, unlike the
// cold path in smallEviction). Only the backend's oldest-first iterator is
// available, so the sweep walks Small from its oldest entry and stops at
// the first one that doesn't qualify, mirroring how mainEviction walks Main.
func (p *policy) quickDemoteSweep() int {
	demoted := 0
	for {
		k, v, ok := p.small.IterOldest()
		if !ok {
			break
		}
		last, seen := p.tracker.lastAccessTime(k)
		age := p.tracker.now() - last
		count := p.tracker.count(k)
		if seen && age <= AgeThreshold && count >= MinAccessCount {
			break
		}
		if err := p.main.Put(k, v); err != nil {
			p.log.WithError(err).WithField("key", string(k)).Warn("quick demotion into main failed")
			break
		}
		if err := p.small.Delete(k); err != nil {
			p.log.WithError(err).WithField("key", string(k)).Error("failed to delete quick-demoted key from small queue")
			break
		}
		demoted++
	}
	if demoted > 0 {
		// Main has no budget check of its own in this loop; run the same
		// cascade put() uses so a sweep can't leave Main over budget.
		p.mainEviction()
	}
	return demoted
}
