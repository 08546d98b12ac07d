// Package store implements the ordered key-value backend that each of the
// cache's three queues (small, main, ghost) is materialized on top of.
//
// A Store is a single memory-mapped append-only segment file plus an
// in-memory index that tracks insertion order. The index, not the segment
// file, is authoritative for membership, ordering, and size: the segment
// file only exists to give values somewhere durable to live. Overwriting a
// key appends a fresh record but leaves the key's position in the FIFO
// order untouched, which is what callers rely on for the "overwrite
// preserves FIFO position" rule.
//
// Opening a Store replays whatever segment file is already on disk, so a
// process restart sees a warm backend (see the package-level cache for how
// that interacts with the access tracker, which does not survive restarts).
// Replay is best-effort: a segment truncated mid-write by a crash is not
// guaranteed to recover every record, consistent with this package's Non-goal
// of persistent recovery guarantees.
package store

import (
	"container/list"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	headerMagic    = uint64(0x53334649464f00) // "S3FIFO" tag
	headerSize     = 32
	initialSegSize = 1 << 20 // 1MiB
	maxGrowStep    = 1 << 28 // 256MiB

	recPut    byte = 0
	recDelete byte = 1
)

// entry is the in-memory record for one resident key. It lives as the
// Value of a container/list.Element so the Store can splice it within its
// FIFO order without scanning.
type entry struct {
	key    string
	offset int // offset of the latest value record for this key
}

// Store is an ordered KV backend: FIFO iteration by insertion order, point
// lookup, membership test, and delete, durable underneath a directory.
//
// All methods are safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
	seg *mmapFile
	end int64 // next free byte offset in seg.Data

	index map[string]*list.Element // key -> *entry, via list.Element
	order *list.List               // Front = oldest, Back = newest

	log *logrus.Logger
}

// Open opens (creating if absent) the ordered KV store rooted at dir and
// replays its segment file to rebuild the in-memory index.
func Open(dir string, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", dir)
	}

	segPath := filepath.Join(dir, "segment.db")
	seg, err := openMmapFile(segPath, initialSegSize)
	isNew := false
	if err == errNewFile {
		isNew = true
		err = nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening segment %s", segPath)
	}

	s := &Store{
		dir:   dir,
		seg:   seg,
		index: make(map[string]*list.Element),
		order: list.New(),
		log:   log,
	}

	if isNew {
		binary.BigEndian.PutUint64(s.seg.Data[0:8], headerMagic)
		binary.BigEndian.PutUint64(s.seg.Data[8:16], uint64(headerSize))
		s.end = headerSize
		if err := s.seg.Sync(); err != nil {
			return nil, errors.Wrap(err, "syncing new segment header")
		}
		log.WithField("dir", dir).Debug("initialized new ordered kv segment")
		return s, nil
	}

	if err := s.replay(); err != nil {
		return nil, errors.Wrapf(err, "replaying segment %s", segPath)
	}
	log.WithFields(logrus.Fields{"dir": dir, "keys": len(s.index)}).
		Debug("replayed ordered kv segment")
	return s, nil
}

// replay rebuilds the in-memory index by walking every record recorded
// between headerSize and the persisted end offset.
func (s *Store) replay() error {
	magic := binary.BigEndian.Uint64(s.seg.Data[0:8])
	if magic != headerMagic {
		// Not a segment we wrote; treat as empty rather than failing hard,
		// since backend corruption is outside this package's recovery scope.
		s.end = headerSize
		return nil
	}
	end := int64(binary.BigEndian.Uint64(s.seg.Data[8:16]))
	if end < headerSize || end > int64(len(s.seg.Data)) {
		s.end = headerSize
		return nil
	}

	off := int(headerSize)
	for int64(off) < end {
		typ := s.seg.Data[off]
		keyOff := off + 1
		key := s.seg.Slice(keyOff)
		next := keyOff + 4 + len(key)
		val := s.seg.Slice(next)
		next = next + 4 + len(val)

		k := string(key)
		switch typ {
		case recPut:
			if elem, ok := s.index[k]; ok {
				// A later record for the same key overwrote the value but
				// must not move the key's original FIFO position.
				elem.Value.(*entry).offset = keyOff
			} else {
				elem := s.order.PushBack(&entry{key: k, offset: keyOff})
				s.index[k] = elem
			}
		case recDelete:
			if elem, ok := s.index[k]; ok {
				s.order.Remove(elem)
				delete(s.index, k)
			}
		}
		off = next
	}
	s.end = end
	return nil
}

// Put inserts or overwrites key with value. A fresh key is appended to the
// tail of the FIFO order; an overwrite keeps the key's existing position.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyOff, err := s.appendRecord(recPut, key, value)
	if err != nil {
		return err
	}

	k := string(key)
	if elem, ok := s.index[k]; ok {
		elem.Value.(*entry).offset = keyOff
		return nil
	}
	elem := s.order.PushBack(&entry{key: k, offset: keyOff})
	s.index[k] = elem
	return nil
}

// appendRecord writes a tagged, length-prefixed key/value record at the
// current end of the segment and returns the offset of the key slice
// (where a stored entry's offset points). Must be called with s.mu held.
func (s *Store) appendRecord(typ byte, key, value []byte) (int, error) {
	need := int64(1 + 4 + len(key) + 4 + len(value))
	if err := s.ensureRoom(need); err != nil {
		return 0, errors.Wrap(err, "growing segment")
	}

	recOff := int(s.end)
	s.seg.Data[recOff] = typ
	keyOff := recOff + 1
	buf, next := s.seg.AllocateSlice(len(key), keyOff)
	copy(buf, key)
	buf2, next2 := s.seg.AllocateSlice(len(value), next)
	copy(buf2, value)
	s.end = int64(next2)
	s.writeEnd()
	return keyOff, nil
}

// ensureRoom grows the backing segment so that at least need more bytes
// can be written past the current end offset.
func (s *Store) ensureRoom(need int64) error {
	capacity := int64(len(s.seg.Data))
	if s.end+need <= capacity {
		return nil
	}
	newSize := capacity
	for newSize < s.end+need {
		step := newSize
		if step > maxGrowStep {
			step = maxGrowStep
		}
		newSize += step
	}
	s.log.WithFields(logrus.Fields{"dir": s.dir, "from": capacity, "to": newSize}).
		Trace("growing segment")
	return s.seg.growTo(newSize)
}

func (s *Store) writeEnd() {
	binary.BigEndian.PutUint64(s.seg.Data[8:16], uint64(s.end))
}

// Get returns the value associated with key, if key is resident.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.index[string(key)]
	if !ok {
		return nil, false
	}
	return s.readValue(elem.Value.(*entry).offset), true
}

// Contains reports whether key is resident, without reading its value.
func (s *Store) Contains(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[string(key)]
	return ok
}

// Delete removes key if present. It is not an error to delete an absent key.
// A tombstone is appended so the deletion survives a replay on reopen.
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	elem, ok := s.index[k]
	if !ok {
		return nil
	}
	if _, err := s.appendRecord(recDelete, key, nil); err != nil {
		return err
	}
	s.order.Remove(elem)
	delete(s.index, k)
	return nil
}

// IterOldest returns the FIFO-oldest resident entry without removing it.
func (s *Store) IterOldest() (key, value []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	front := s.order.Front()
	if front == nil {
		return nil, nil, false
	}
	e := front.Value.(*entry)
	return []byte(e.key), s.readValue(e.offset), true
}

// Keys returns up to limit resident keys in FIFO order, oldest first,
// without mutating the store. Intended for bounded diagnostic dumps
// (e.g. Cache.PrintState), not for iterating the full keyspace.
func (s *Store) Keys(limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, limit)
	for e := s.order.Front(); e != nil && len(keys) < limit; e = e.Next() {
		keys = append(keys, e.Value.(*entry).key)
	}
	return keys
}

// Size returns the number of resident keys.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.index))
}

// readValue decodes the value half of the record starting at offset.
// Must be called with s.mu held.
func (s *Store) readValue(offset int) []byte {
	key := s.seg.Slice(offset)
	next := offset + 4 + len(key)
	val := s.seg.Slice(next)
	out := make([]byte, len(val))
	copy(out, val)
	return out
}

// Close flushes and unmaps the segment file. The Store must not be used
// afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seg == nil {
		return nil
	}
	err := s.seg.Close(-1)
	s.seg = nil
	return err
}
