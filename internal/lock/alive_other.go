//go:build !unix

package lock

import "os"

// processAlive reports whether a process with the given pid exists.
// Without signal 0 support the best available probe is FindProcess,
// which on non-unix platforms fails for nonexistent pids.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
