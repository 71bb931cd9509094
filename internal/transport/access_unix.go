//go:build unix

package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	ncerr "rclink/internal/errors"
)

// CheckAccess verifies that path exists and the current user may both
// read and write it.  A missing node usually means the Bluetooth module
// is not bound (rfcomm bind) or the adapter is unplugged.
func CheckAccess(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ncerr.ErrDeviceNotFound, path)
		}
		return err
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %v (is the user in the dialout group?)",
			ncerr.ErrPermissionDenied, path, err)
	}
	return nil
}
