//go:build windows
// +build windows

package main

import "os"

// SIGWINCH does not exist on Windows, so the PTY keeps the size it was
// seeded with at session start.
func startPTYResizeWatcher(_ *os.File) {}
