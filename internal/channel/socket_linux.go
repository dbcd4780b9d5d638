//go:build linux

package channel

import "syscall"

func setReceiveBuffer(fd int, size int) error {
	// Linux doubles SO_RCVBUF against what is requested; the kernel's
	// accounting convention, not something worth compensating for here.
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size)
}
