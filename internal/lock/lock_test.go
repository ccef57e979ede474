package lock

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireRecordsHolder(t *testing.T) {
	home := t.TempDir()

	l, err := Acquire(home)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h, err := ReadHolder(home)
	if err != nil {
		t.Fatalf("ReadHolder() error = %v", err)
	}
	if h.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", h.PID, os.Getpid())
	}
	if time.Since(h.Started) > time.Minute {
		t.Errorf("Started = %s, want about now", h.Started)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "LOCK")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
}

func TestSecondDaemonRejected(t *testing.T) {
	home := t.TempDir()

	first, err := Acquire(home)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = first.Release() }()

	_, err = Acquire(home)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if held.Holder.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", held.Holder.PID, os.Getpid())
	}
	if !strings.Contains(held.Error(), "already running") {
		t.Errorf("Error() = %q", held.Error())
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	home := t.TempDir()
	l, err := Acquire(home)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	// Second release is a no-op.
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	l2, err := Acquire(home)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReadHolderMissing(t *testing.T) {
	if _, err := ReadHolder(t.TempDir()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadHolder() error = %v, want ErrNotExist", err)
	}
}

func TestParseHolderTolerant(t *testing.T) {
	h := parseHolder("garbage\npid=42\nstarted=not-a-time\n")
	if h.PID != 42 || !h.Started.IsZero() {
		t.Errorf("parseHolder() = %+v", h)
	}
}
