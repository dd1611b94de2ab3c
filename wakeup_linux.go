//go:build linux

package msgloop

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates the reactor's wake descriptor (Linux: eventfd).
// Returns the same descriptor as both the read and write end.
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}
