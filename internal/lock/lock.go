// Package lock keeps one watchdog per target.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/Dicklesworthstone/keepalive/internal/util"
)

// ErrLocked is returned when another process holds the target's lock.
var ErrLocked = errors.New("another keepalive is already watching this target")

// Lock is a held per-target lock.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Path returns the lock file path.
func Path(dir, target string) string {
	name := util.SanitizeFilename(target)
	if name == "" {
		name = "default"
	}
	return filepath.Join(dir, name+".lock")
}

// Acquire takes the lock for target under dir without blocking. The
// holder's pid is written into the file for diagnostics.
func Acquire(dir, target string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := Path(dir, target)
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		if pid := Holder(dir, target); pid > 0 {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}
		return nil, ErrLocked
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return &Lock{fl: fl, path: path}, nil
}

// Holder returns the pid recorded in target's lock file, or 0.
func Holder(dir, target string) int {
	data, err := os.ReadFile(Path(dir, target))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	_ = os.Remove(l.path)
	return l.fl.Unlock()
}
