//go:build windows

package relay

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// broadcastControl enables SO_BROADCAST before the socket is bound.
func broadcastControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
