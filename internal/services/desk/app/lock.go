package app

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// lockFile guards against two desk processes polling the same bot token,
// which makes Telegram drop updates nondeterministically between them.
type lockFile struct {
	path string
}

// acquireLock writes a pid file exclusively. A stale file whose pid no
// longer runs is replaced; a live pid refuses startup. An empty path
// disables locking.
func acquireLock(path string) (*lockFile, error) {
	if strings.TrimSpace(path) == "" {
		return &lockFile{}, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		handle, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, writeErr := fmt.Fprintf(handle, "%d\n", os.Getpid())
			closeErr := handle.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock file %s: %w", path, writeErr)
			}
			return &lockFile{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}

		pid, readErr := readLockPid(path)
		if readErr == nil && pidRunning(pid) {
			return nil, fmt.Errorf("another desk process holds %s (pid %d)", path, pid)
		}
		log.Printf("desk: removing stale lock path=%s", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("could not acquire lock file %s", path)
}

func (l *lockFile) release() {
	if l == nil || l.path == "" {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Printf("desk: remove lock err=%v", err)
	}
}

func readLockPid(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

// pidRunning reports whether a process with the pid exists. Signal 0
// performs the existence check without delivering anything.
func pidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
