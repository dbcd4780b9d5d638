//go:build darwin

package channel

import "syscall"

func setReceiveBuffer(fd int, size int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size)
}
