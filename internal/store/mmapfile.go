package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"

	"github.com/pkg/errors"
)

// mmapFile represents a memory-mapped segment file together with its
// underlying file descriptor. Each of the three queues (small, main, ghost)
// owns exactly one of these under its own subdirectory.
type mmapFile struct {
	Data []byte
	Fd   *os.File
}

// errNewFile is returned by openMmapFile when the segment file did not
// exist yet, so callers can skip replay.
var errNewFile = errors.New("create a new segment file")

// openMmapFile opens an existing segment file or creates a new one. A
// freshly created file is truncated to maxSz and mmap'd up front; an
// existing file is mmap'd to its own size (it grows via growTo as needed).
func openMmapFile(filename string, maxSz int) (*mmapFile, error) {
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}

	fi, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot stat file: %s", filename)
	}

	fileSize := fi.Size()
	isNew := fileSize == 0
	if isNew {
		if err := fd.Truncate(int64(maxSz)); err != nil {
			return nil, errors.Wrap(err, "error while truncation")
		}
	} else {
		maxSz = int(fileSize)
	}

	buf, err := mmap(fd, true, int64(maxSz))
	if err != nil {
		return nil, errors.Wrapf(err, "while mmapping %s with size: %d", fd.Name(), maxSz)
	}

	mf := &mmapFile{Data: buf, Fd: fd}
	if isNew {
		dir, _ := path.Split(filename)
		if err := syncDir(dir); err != nil {
			return mf, err
		}
		return mf, errNewFile
	}
	return mf, nil
}

// Slice returns the length-prefixed slice stored at offset, without copying.
func (m *mmapFile) Slice(offset int) []byte {
	sz := binary.BigEndian.Uint32(m.Data[offset:])
	start := offset + 4
	next := start + int(sz)
	if next > len(m.Data) {
		return []byte{}
	}
	return m.Data[start:next]
}

// AllocateSlice writes a length prefix at offset and returns the backing
// slice for the sz bytes that follow, plus the offset right after them.
func (m *mmapFile) AllocateSlice(sz, offset int) ([]byte, int) {
	binary.BigEndian.PutUint32(m.Data[offset:], uint32(sz))
	return m.Data[offset+4 : offset+4+sz], offset + 4 + sz
}

func (m *mmapFile) Sync() error {
	if m.Data == nil {
		return nil
	}
	return m.syncData()
}

func (m *mmapFile) Close(maxSz int64) error {
	if m.Data == nil {
		return m.Fd.Close()
	}
	if err := m.Sync(); err != nil {
		return errors.Wrapf(err, "while syncing %s", m.Fd.Name())
	}
	if err := munmap(m.Data); err != nil {
		return fmt.Errorf("while munmap file: %s, error: %v", m.Fd.Name(), err)
	}
	m.Data = nil
	if maxSz >= 0 {
		if err := m.Fd.Truncate(maxSz); err != nil {
			return fmt.Errorf("while truncate file: %s, error: %v", m.Fd.Name(), err)
		}
	}
	return m.Fd.Close()
}

func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "while opening %s", dir)
	}
	if err := df.Sync(); err != nil {
		df.Close()
		return errors.Wrapf(err, "while syncing %s", dir)
	}
	return df.Close()
}
