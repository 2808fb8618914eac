//go:build windows
// +build windows

package manager

import "syscall"

func detachSysProcAttr() *syscall.SysProcAttr {
	return nil
}
