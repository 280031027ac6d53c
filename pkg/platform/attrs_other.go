//go:build !windows

package platform

import "os"

func clearAttributes(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	mode := info.Mode().Perm()
	if mode&0o200 != 0 {
		return nil
	}
	return os.Chmod(path, mode|0o200)
}
