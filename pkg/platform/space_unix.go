//go:build linux || darwin || freebsd

package platform

import (
	"golang.org/x/sys/unix"

	"github.com/isoforge/isoforge/pkg/errors"
)

func freeBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, errors.E(errors.ErrFilesystemFailure, "statfs", err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
