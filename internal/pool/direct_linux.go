//go:build linux

package pool

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path for direct, unbuffered I/O (O_DIRECT) on Linux, the
// platform the spec's direct-I/O storage pool targets. All reads/writes
// through this handle must be page-aligned: Pool.ReadNode rounds node reads
// to whole pages (alignedReadWindow), internal/compact.Flush zero-pads every
// node write to whole pages, and Database.Close pads the header the same
// way. WriteChunk and ReadRaw pass offsets and lengths through unchanged.
func openDirect(path string, readOnly bool) (*os.File, error) {
	flags := unix.O_DIRECT | unix.O_CLOEXEC
	if readOnly {
		flags |= unix.O_RDONLY
	} else {
		flags |= unix.O_RDWR | unix.O_CREAT
	}
	fd, err := unix.Open(path, flags, 0o644)
	if err != nil {
		// O_DIRECT is not supported by every filesystem (e.g. tmpfs, some
		// CI overlay mounts); fall back to buffered I/O rather than fail
		// outright, matching the pool's tolerance for anonymous/tmp-backed
		// stores that never claimed O_DIRECT support.
		flags &^= unix.O_DIRECT
		fd, err = unix.Open(path, flags, 0o644)
		if err != nil {
			return nil, err
		}
	}
	return os.NewFile(uintptr(fd), path), nil
}

func anonFile(size int64) (*os.File, error) {
	fd, err := unix.MemfdCreate("mpt-pool-anon", 0)
	if err != nil {
		f, ferr := os.CreateTemp("", "mpt-pool-anon-*")
		if ferr != nil {
			return nil, ferr
		}
		if err := os.Remove(f.Name()); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}
	f := os.NewFile(uintptr(fd), "mpt-pool-anon")
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
