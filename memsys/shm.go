// Package memsys provides the producer/receiver shared-memory channel
// for bulk image bytes (spec.md §4.1). It generalizes the teacher's
// memsys package — an in-process scatter-gather buffer manager — to an
// OS-named shared region opened by name on both sides of the pipeline,
// using the same POSIX-shared-memory technique demonstrated by the
// mmap'd per-tag buffers in _examples/ehrlich-b-go-ublk's queue runner.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package memsys

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/OneOfOne/xxhash"
	"github.com/OpenHCSDev/polystore-core/cmn/debug"
	"github.com/OpenHCSDev/polystore-core/core"
	"golang.org/x/sys/unix"
)

// shmDir is where POSIX shared-memory objects live on Linux; opening a
// file here and mmap-ing it is equivalent to shm_open+mmap without
// cgo, and is what tmpfs-backed /dev/shm is for.
var shmDir = "/dev/shm"

// Buffer is a scoped handle on a named shared-memory region. It
// exposes a raw byte view; shape/dtype reinterpretation is the
// caller's responsibility (spec.md §4.1).
type Buffer struct {
	name   string
	fd     int
	data   []byte
	closed bool
}

func path(name string) string { return filepath.Join(shmDir, name) }

// Create allocates a new named shared buffer sized to shape·dtype.size
// (spec.md §3, Lifecycle step 1). Fails with a BufferError wrapping
// AlreadyExists/OutOfMemory-equivalent causes.
func Create(name string, size int64) (*Buffer, error) {
	if size <= 0 {
		return nil, core.NewBufferErr("shared buffer %q: size must be positive, got %d", name, size)
	}
	fd, err := unix.Open(path(name), unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		if err == unix.EEXIST {
			return nil, core.NewBufferErr("shared buffer %q already exists", name)
		}
		return nil, core.NewBufferErr("shared buffer %q: create failed: %v", name, err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		unix.Unlink(path(name))
		return nil, core.NewBufferErr("shared buffer %q: truncate to %d failed: %v", name, size, err)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path(name))
		return nil, core.NewBufferErr("shared buffer %q: mmap failed: %v", name, err)
	}
	return &Buffer{name: name, fd: fd, data: data}, nil
}

// Open attaches to an existing named shared buffer. Fails with a
// BufferError wrapping NotFound if the name doesn't exist.
func Open(name string) (*Buffer, error) {
	fd, err := unix.Open(path(name), unix.O_RDWR, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, core.NewBufferErr("shared buffer %q not found", name)
		}
		return nil, core.NewBufferErr("shared buffer %q: open failed: %v", name, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, core.NewBufferErr("shared buffer %q: stat failed: %v", name, err)
	}
	size := st.Size
	if size == 0 {
		unix.Close(fd)
		return nil, core.NewBufferErr("shared buffer %q: zero-length", name)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, core.NewBufferErr("shared buffer %q: mmap failed: %v", name, err)
	}
	return &Buffer{name: name, fd: fd, data: data}, nil
}

// Bytes exposes the raw mapped region. The caller owns interpretation
// of shape/dtype.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Name() string { return b.name }

// Close releases the local handle. It never unlinks the OS name — see
// the single-unlinker contract in spec.md §3 and §4.1.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			errs = append(errs, err)
		}
		b.data = nil
	}
	if err := unix.Close(b.fd); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return core.NewBufferErr("shared buffer %q: close failed: %v", b.name, errs[0])
	}
	return nil
}

// Unlink removes the OS name. Idempotent on NotFound, per spec.md
// §4.1's contract — callers relying on idempotence include the
// producer's failure-path cleanup, which may race a receiver that
// already unlinked on success (the single-unlinker invariant forbids
// that race from actually happening in a correct caller, but Unlink
// degrades gracefully rather than panicking if it ever does).
func Unlink(name string) error {
	err := unix.Unlink(path(name))
	if err == nil || err == unix.ENOENT {
		return nil
	}
	return core.NewBufferErr("shared buffer %q: unlink failed: %v", name, err)
}

// UniqueName builds a shared-memory name per spec.md §6:
// "{prefix}_{origin-id}_{nanos}". The xxhash suffix of originID keeps
// names short and collision-resistant even when originID is a long
// path, without needing the caller to pre-sanitize it.
func UniqueName(prefix, originID string, nanos int64) string {
	debug.Assert(prefix != "", "shared-memory name prefix must not be empty")
	h := xxhash.Checksum64([]byte(originID))
	return prefix + strconv.FormatUint(h, 10) + "_" + strconv.FormatInt(nanos, 10)
}

// shmDir can be overridden via POLYSTORE_SHM_DIR, mainly so tests don't
// need write access to the real /dev/shm.
func init() {
	if d := os.Getenv("POLYSTORE_SHM_DIR"); d != "" {
		shmDir = d
	}
}
