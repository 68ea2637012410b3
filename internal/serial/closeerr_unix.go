//go:build unix

package serial

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isBadDescriptor(err error) bool { return errors.Is(err, unix.EBADF) }
