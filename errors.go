/*
 * Copyright 2024 The s3fifo Authors.
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

import "github.com/pkg/errors"

// ErrInvalidConfig is wrapped with the offending detail and returned by
// New when a Config fails validation. Configuration errors are fatal: the
// facade refuses to hand back a usable cache.
var ErrInvalidConfig = errors.New("s3fifo: invalid configuration")

// BackendError wraps a failure reported by one of the three ordered KV
// stores (open, read, write, delete). Backend errors on the hot path
// (promotion, demotion, eviction) are logged and recovered locally per the
// engine's failure semantics; they only reach the caller when they affect
// the call's own key (e.g. admission on Put).
type BackendError struct {
	Queue string // "small", "main", or "ghost"
	Op    string // "put", "get", "delete", "iter_oldest"
	Err   error
}

func (e *BackendError) Error() string {
	return "s3fifo: " + e.Queue + " queue " + e.Op + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(queue, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Queue: queue, Op: op, Err: err}
}
