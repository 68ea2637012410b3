package serial

import (
	"errors"
	"os"
)

// IsBenignClose reports whether a Close error only says the device handle was
// already gone (Bluetooth bridge dropped, descriptor invalidated). Such errors
// are logged and swallowed during teardown.
func IsBenignClose(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrClosed) || isBadDescriptor(err)
}
