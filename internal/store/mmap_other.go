//go:build !linux

package store

import (
	"fmt"
	"io"
	"os"
)

// Non-Linux build: no mmap syscall wrapper in this package, so the segment
// just lives in a plain heap buffer and Sync pwrites it back in full. This
// is slower than the Linux path but keeps the package portable; actual
// mmap'd I/O is only exercised on Linux.

func mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := fd.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

func munmap(data []byte) error {
	return nil
}

func (m *mmapFile) syncData() error {
	_, err := m.Fd.WriteAt(m.Data, 0)
	if err != nil {
		return err
	}
	return m.Fd.Sync()
}

func (m *mmapFile) growTo(newSize int64) error {
	if err := m.Fd.Truncate(newSize); err != nil {
		return fmt.Errorf("while truncate file: %s, error: %v", m.Fd.Name(), err)
	}
	buf := make([]byte, newSize)
	copy(buf, m.Data)
	m.Data = buf
	return nil
}
