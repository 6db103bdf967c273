//go:build !linux

package pool

import "os"

// openDirect falls back to ordinary buffered file I/O on platforms without
// O_DIRECT (spec's direct-I/O pool is a Linux-targeted design; see
// direct_linux.go for the real implementation).
func openDirect(path string, readOnly bool) (*os.File, error) {
	if readOnly {
		return os.OpenFile(path, os.O_RDONLY, 0o644)
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

func anonFile(size int64) (*os.File, error) {
	f, err := os.CreateTemp("", "mpt-pool-anon-*")
	if err != nil {
		return nil, err
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
