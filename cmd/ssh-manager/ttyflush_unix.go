//go:build !windows
// +build !windows

package main

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// flushTTYInput discards unread bytes queued on the controlling terminal.
// Terminal integrations answer queries with OSC/DSR replies, and anything
// still queued when ssh takes over the TTY shows up as typed characters
// at the remote prompt. Call it right before handing the terminal to an
// interactive session. Never fails; without a /dev/tty it does nothing.
func flushTTYInput() {
	tty, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer func() { _ = tty.Close() }()

	fd := int(tty.Fd())

	// tcflush(fd, TCIFLUSH) via ioctl(TCFLSH). The request value is
	// 0x540B on both Linux and Darwin, which saves us from needing a
	// Tcflush wrapper in x/sys/unix on every platform.
	const TCFLSH = 0x540B
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(TCFLSH), uintptr(unix.TCIFLUSH))

	// Replies can land just after the flush. Drain non-blocking for a
	// short window, extending it while bytes keep arriving.
	_ = unix.SetNonblock(fd, true)
	defer func() { _ = unix.SetNonblock(fd, false) }()

	deadline := time.Now().Add(200 * time.Millisecond)
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		n, rerr := unix.Read(fd, buf)
		if n > 0 {
			deadline = time.Now().Add(75 * time.Millisecond)
			continue
		}
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			break
		}
		break
	}
}
