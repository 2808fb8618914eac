//go:build !windows
// +build !windows

package manager

import "syscall"

// detachSysProcAttr puts the launched terminal in its own session so it
// keeps running after this process exits.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
