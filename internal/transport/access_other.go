//go:build !unix

package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	ncerr "rclink/internal/errors"
)

// CheckAccess verifies that path exists.  Access control on COM ports
// is enforced by the open call itself.
func CheckAccess(path string) error {
	if strings.HasPrefix(strings.ToUpper(path), "COM") {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ncerr.ErrDeviceNotFound, path)
	}
	return nil
}
