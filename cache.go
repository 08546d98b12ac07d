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

// Package s3fifo's Cache ties the queue backend, access tracker, and
// policy engine together behind a small get/put/stats surface.
package s3fifo

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/scanresist/s3fifo/internal/store"
)

// defaultAverageValueSize is used to convert a byte budget into an item
// count when the caller does not track exact value sizes.
const defaultAverageValueSize = 4096

// Config configures a Cache. BasePath, TotalSize are required; the rest
// have sane defaults.
type Config struct {
	// BasePath is the directory under which small/, main/ and ghost/
	// subdirectories are created to hold each queue's backing store.
	BasePath string
	// TotalSize is the overall byte budget split across Small and Main
	// according to SmallRatio. Must be positive.
	TotalSize int64
	// SmallRatio is Small's share of TotalSize, in (0, 1). Defaults to 0.1.
	SmallRatio float64
	// GhostRatio is Ghost's share of TotalSize, in (0, 1]. Defaults to 0.1.
	GhostRatio float64
	// AverageValueSize approximates bytes-per-item when converting a byte
	// budget into an item count. Defaults to 4096.
	AverageValueSize int64
	// QuickDemoteInterval, if positive, runs the Small quick-demotion
	// sweep on a background ticker. Zero disables it; a caller may still
	// trigger a sweep manually via Cache.Sweep.
	QuickDemoteInterval time.Duration
	// Logger receives promotion/demotion/eviction and backend failure
	// logging. Defaults to logrus.New() if nil.
	Logger *logrus.Logger
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.SmallRatio == 0 {
		cfg.SmallRatio = 0.1
	}
	if cfg.GhostRatio == 0 {
		cfg.GhostRatio = 0.1
	}
	if cfg.AverageValueSize == 0 {
		cfg.AverageValueSize = defaultAverageValueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &cfg
}

func (c *Config) validate() error {
	switch {
	case c.BasePath == "":
		return errors.Wrap(ErrInvalidConfig, "base path is empty")
	case c.TotalSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "total size must be positive")
	case c.SmallRatio <= 0 || c.SmallRatio >= 1:
		return errors.Wrapf(ErrInvalidConfig, "small ratio %v out of range (0, 1)", c.SmallRatio)
	case c.GhostRatio <= 0 || c.GhostRatio > 1:
		return errors.Wrapf(ErrInvalidConfig, "ghost ratio %v out of range (0, 1]", c.GhostRatio)
	case c.AverageValueSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "average value size must be positive")
	}
	return nil
}

// Cache is an S3-FIFO cache: three cooperating FIFO queues over a
// directory of memory-mapped backends, fronted by an admission and
// eviction policy engine.
type Cache struct {
	cfg    *Config
	log    *logrus.Logger
	policy *policy

	small, main, ghost *store.Store

	// Metrics exposes raw counters directly, for callers that don't want
	// to go through Stats().
	Metrics *Metrics

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

// New bootstraps a Cache rooted at cfg.BasePath, creating small/, main/
// and ghost/ subdirectories (and replaying any segment files already
// there) if they don't already exist.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "config is nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	small, err := store.Open(filepath.Join(cfg.BasePath, "small"), cfg.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening small queue")
	}
	main, err := store.Open(filepath.Join(cfg.BasePath, "main"), cfg.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening main queue")
	}
	ghost, err := store.Open(filepath.Join(cfg.BasePath, "ghost"), cfg.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening ghost queue")
	}

	smallBudget := itemBudget(cfg.TotalSize, cfg.SmallRatio, cfg.AverageValueSize)
	mainBudget := itemBudget(cfg.TotalSize, 1-cfg.SmallRatio, cfg.AverageValueSize)
	ghostBudget := itemBudget(cfg.TotalSize, cfg.GhostRatio, cfg.AverageValueSize)

	pol := newPolicy(small, main, ghost, smallBudget, mainBudget, ghostBudget, cfg.Logger)

	c := &Cache{
		cfg:     cfg,
		log:     cfg.Logger,
		policy:  pol,
		small:   small,
		main:    main,
		ghost:   ghost,
		Metrics: pol.metrics,
	}

	if cfg.QuickDemoteInterval > 0 {
		c.stopSweep = make(chan struct{})
		c.sweepWG.Add(1)
		go c.runSweepLoop(cfg.QuickDemoteInterval)
	}

	cfg.Logger.WithFields(logrus.Fields{
		"base_path":    cfg.BasePath,
		"small_budget": smallBudget,
		"main_budget":  mainBudget,
		"ghost_budget": ghostBudget,
	}).Info("s3fifo cache opened")

	return c, nil
}

func itemBudget(totalSize int64, ratio float64, averageValueSize int64) int64 {
	budget := int64(float64(totalSize)*ratio) / averageValueSize
	if budget < 1 {
		budget = 1
	}
	return budget
}

func (c *Cache) runSweepLoop(interval time.Duration) {
	defer c.sweepWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopSweep:
			return
		}
	}
}

// Sweep runs the Small quick-demotion pass once, returning how many keys
// were demoted back into Main.
func (c *Cache) Sweep() int {
	return c.policy.quickDemoteSweep()
}

// Get returns the value stored for key, reporting a miss via the second
// return rather than an error. An error is returned only if the backend
// itself failed during a lookup that should have succeeded.
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	v, ok, err := c.policy.get(Key(key))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Put inserts or overwrites key with value. It admits into Main, or
// overwrites an existing Small copy in place (its FIFO position is kept),
// and triggers the eviction cascade if Main is over budget.
func (c *Cache) Put(key, value []byte) error {
	return c.policy.put(Key(key), value)
}

// Stats reports queue sizes, their approximate byte footprints, and the
// cumulative hit ratio.
type Stats struct {
	SmallItems, MainItems, GhostItems int64
	SmallBytes, MainBytes, GhostBytes int64
	HitRatio                          float64
}

func (c *Cache) Stats() Stats {
	small, main, ghost := c.small.Size(), c.main.Size(), c.ghost.Size()
	avg := c.cfg.AverageValueSize
	return Stats{
		SmallItems: small,
		MainItems:  main,
		GhostItems: ghost,
		SmallBytes: small * avg,
		MainBytes:  main * avg,
		GhostBytes: ghost * avg,
		HitRatio:   c.Metrics.Ratio(),
	}
}

// PrintState returns a human-readable snapshot of the cache and also logs
// it at Debug level, for operators and tests; the format is not stable.
// Grounded in the original C++ reference's printState: the Small queue dump
// includes each resident key's access count, bounded so a large cache
// doesn't flood the log. A bucketed view of how many logical ticks evicted
// keys spent resident is printed to standard output; it is not part of the
// returned string.
func (c *Cache) PrintState() string {
	const maxSmallKeysShown = 64

	st := c.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "s3fifo state: small=%d/%d main=%d/%d ghost=%d/%d (avg value %s) hit-ratio=%.2f\n",
		st.SmallItems, c.policy.smallBudget,
		st.MainItems, c.policy.mainBudget,
		st.GhostItems, c.policy.ghostBudget,
		humanize.Bytes(uint64(c.cfg.AverageValueSize)), st.HitRatio)

	for i, k := range c.small.Keys(maxSmallKeysShown) {
		fmt.Fprintf(&b, "  small[%d]: %q count=%d\n", i, k, c.policy.tracker.count(Key(k)))
	}

	c.log.Debug(b.String())
	c.Metrics.LifeExpectancyTicks().PrintHistogram()
	return b.String()
}

// Close flushes and unmaps the three backends and stops the background
// quick-demotion sweep, if one was started. The Cache must not be used
// afterward.
func (c *Cache) Close() error {
	if c.stopSweep != nil {
		close(c.stopSweep)
		c.sweepWG.Wait()
	}

	var firstErr error
	for _, s := range []*store.Store{c.small, c.main, c.ghost} {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
