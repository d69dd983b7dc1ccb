//go:build !unix

package trustledger

import "os"

// lockFile is a no-op where flock is unavailable. Appends are still
// serialised inside the process; running several writers against one file
// on these platforms is unsupported.
func lockFile(_ *os.File, _ bool) (func(), error) {
	return func() {}, nil
}
