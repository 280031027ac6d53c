//go:build !linux && !darwin && !freebsd && !windows

package platform

import (
	"fmt"
	"runtime"

	"github.com/isoforge/isoforge/pkg/errors"
)

func freeBytes(dir string) (uint64, error) {
	return 0, errors.E(errors.ErrResourceUnavailable, "free_space",
		fmt.Errorf("free space query not supported on %s", runtime.GOOS))
}
