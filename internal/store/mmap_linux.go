//go:build linux

package store

import (
	"fmt"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

func mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(fd.Fd()), 0, int(size), prot, unix.MAP_SHARED)
}

// mremap grows an existing mapping, moving it if the kernel can't extend
// it in place.
func mremap(data []byte, size int) ([]byte, error) {
	const mremapMayMove = 0x1

	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	mmapAddr, mmapSize, errno := unix.Syscall6(
		unix.SYS_MREMAP,
		header.Data,
		uintptr(header.Len),
		uintptr(size),
		uintptr(mremapMayMove),
		0,
		0,
	)
	if errno != 0 {
		return nil, errno
	}
	if mmapSize != uintptr(size) {
		return nil, fmt.Errorf("mremap size mismatch: requested: %d got: %d", size, mmapSize)
	}

	header.Data = mmapAddr
	header.Cap = size
	header.Len = size
	return data, nil
}

func munmap(data []byte) error {
	if len(data) == 0 || len(data) != cap(data) {
		return unix.EINVAL
	}
	return unix.Munmap(data)
}

func msync(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

func (m *mmapFile) syncData() error {
	return msync(m.Data)
}

// growTo extends the mapping to at least newSize bytes, truncating the
// backing file first and then remapping via mremap, which may move the
// mapping.
func (m *mmapFile) growTo(newSize int64) error {
	if err := m.Fd.Truncate(newSize); err != nil {
		return fmt.Errorf("while truncate file: %s, error: %v", m.Fd.Name(), err)
	}
	data, err := mremap(m.Data, int(newSize))
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}
