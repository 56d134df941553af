//go:build windows

package cmd

import (
	"golang.org/x/sys/windows"
)

// isProcessRunning opens the process with SYNCHRONIZE access, the least
// right that proves it exists.
func isProcessRunning(pid int) bool {
	handle, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return false
	}
	windows.CloseHandle(handle)
	return true
}
