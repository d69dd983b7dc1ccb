//go:build unix

package trustledger

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an advisory flock on f, retrying on EINTR. The returned
// function releases it.
func lockFile(f *os.File, exclusive bool) (func(), error) {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, how)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			return nil, err
		}
	}
	return func() { _ = unix.Flock(fd, unix.LOCK_UN) }, nil
}
