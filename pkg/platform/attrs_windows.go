//go:build windows

package platform

import (
	"golang.org/x/sys/windows"
)

func clearAttributes(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return err
	}
	const sticky = windows.FILE_ATTRIBUTE_READONLY | windows.FILE_ATTRIBUTE_SYSTEM | windows.FILE_ATTRIBUTE_HIDDEN
	if attrs&sticky == 0 {
		return nil
	}
	return windows.SetFileAttributes(p, attrs&^sticky)
}
