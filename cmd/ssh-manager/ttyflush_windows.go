//go:build windows
// +build windows

package main

// Windows consoles do not queue terminal-integration replies the way a
// Unix TTY does, so there is nothing to flush.
func flushTTYInput() {}
