//go:build windows

package platform

import (
	"golang.org/x/sys/windows"

	"github.com/isoforge/isoforge/pkg/errors"
)

func freeBytes(dir string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, errors.E(errors.ErrFilesystemFailure, "free_space", err)
	}
	var avail, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &totalFree); err != nil {
		return 0, errors.E(errors.ErrFilesystemFailure, "free_space", err)
	}
	return avail, nil
}
