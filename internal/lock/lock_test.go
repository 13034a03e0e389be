package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "work:0.1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := Acquire(dir, "work:0.1"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire err = %v, want ErrLocked", err)
	}

	// another target is independent
	other, err := Acquire(dir, "work:0.2")
	if err != nil {
		t.Fatalf("Acquire other target: %v", err)
	}
	defer other.Release()

	if got := Holder(dir, "work:0.1"); got != os.Getpid() {
		t.Errorf("Holder = %d, want %d", got, os.Getpid())
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(first.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Release: %v", err)
	}

	again, err := Acquire(dir, "work:0.1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again.Release()
}

func TestPathSanitizesTarget(t *testing.T) {
	tests := []struct {
		target, want string
	}{
		{"main:0.1", "main-0_1.lock"},
		{"../../etc/passwd", "__-__-etc-passwd.lock"},
		{"", "default.lock"},
	}
	for _, tt := range tests {
		got := Path("/locks", tt.target)
		if got != filepath.Join("/locks", tt.want) {
			t.Errorf("Path(%q) = %q, want %q", tt.target, got, tt.want)
		}
		if filepath.Dir(got) != "/locks" {
			t.Errorf("Path(%q) escaped the lock dir", tt.target)
		}
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release = %v", err)
	}
}
