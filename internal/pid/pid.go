// Package pid guards against concurrent daemon instances through a pid
// file in the system temp directory.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/finshlink/internal/errors"
)

const pidFile = "finshlink.pid"

var errFactory = errors.New()

func path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write claims the pid file. A stale file left by a dead process is
// overwritten; a live owner means another instance is running.
func Write() error {
	if owner, ok := livePID(); ok {
		return errFactory.WithData(errors.ErrAlreadyRunning, owner)
	}

	if err := os.WriteFile(path(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove drops the pid file; missing is not an error
func Remove() error {
	if _, err := os.Stat(path()); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path()); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// livePID reports the pid in the file when that process still answers
// signal 0
func livePID() (int, bool) {
	raw, err := os.ReadFile(path())
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	return pid, process.Signal(syscall.Signal(0)) == nil
}
