//go:build !unix && !windows

package relay

import "syscall"

func broadcastControl(network, address string, c syscall.RawConn) error {
	return nil
}
