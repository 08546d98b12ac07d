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

// Command s3fifodemo exercises the s3fifo package end to end: it warms a
// small set of hot keys, then floods the cache with a one-time scan, prints
// the cache state before and after, and reports how many hot keys are still
// resident. Only hot keys promoted into Small (by the default 1% draw per
// qualifying hit) are shielded from the scan.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/scanresist/s3fifo"
)

func main() {
	dir := flag.String("dir", "", "base directory for the cache (defaults to a temp dir)")
	totalSize := flag.Int64("size", 1<<20, "total byte budget split across small and main")
	hotKeys := flag.Int("hot", 8, "number of hot keys kept warm before the scan")
	scanKeys := flag.Int("scan", 5000, "number of one-time keys put during the scan burst")
	flag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	base := *dir
	if base == "" {
		tmp, err := os.MkdirTemp("", "s3fifodemo-")
		if err != nil {
			log.WithError(err).Fatal("failed to create temp dir")
		}
		defer os.RemoveAll(tmp)
		base = tmp
	}

	cache, err := s3fifo.New(&s3fifo.Config{
		BasePath:   base,
		TotalSize:  *totalSize,
		SmallRatio: 0.1,
		GhostRatio: 0.1,
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open cache")
	}
	defer cache.Close()

	hot := make([][]byte, *hotKeys)
	for i := range hot {
		hot[i] = []byte(fmt.Sprintf("hot-%d", i))
		if err := cache.Put(hot[i], []byte(fmt.Sprintf("value-%d", i))); err != nil {
			log.WithError(err).Fatal("put failed")
		}
	}
	// Touch every hot key a few times so the policy engine has a reason
	// to promote them into Small before the scan arrives.
	for pass := 0; pass < 3; pass++ {
		for _, k := range hot {
			if _, _, err := cache.Get(k); err != nil {
				log.WithError(err).Fatal("get failed")
			}
		}
	}

	fmt.Println("-- before scan --")
	fmt.Println(cache.PrintState())

	for i := 0; i < *scanKeys; i++ {
		k := []byte(fmt.Sprintf("scan-%d", i))
		if err := cache.Put(k, k); err != nil {
			log.WithError(err).Fatal("put failed")
		}
	}

	fmt.Println("-- after scan --")
	fmt.Println(cache.PrintState())

	survived := 0
	for _, k := range hot {
		if _, ok, err := cache.Get(k); err == nil && ok {
			survived++
		}
	}
	fmt.Printf("hot keys survived the scan: %d/%d\n", survived, len(hot))
}
