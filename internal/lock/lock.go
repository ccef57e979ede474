// Package lock keeps a single echovaultd per home directory. Two daemons on
// one database would both fire and deliver the same conditions.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const fileName = "LOCK"

// Holder is the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
}

// LockHeldError is returned when another daemon holds the instance lock.
type LockHeldError struct {
	Holder Holder
	Path   string
}

func (e *LockHeldError) Error() string {
	if e.Holder.Started.IsZero() {
		return fmt.Sprintf("echovaultd already running as PID %d (%s)", e.Holder.PID, e.Path)
	}
	return fmt.Sprintf("echovaultd already running as PID %d since %s (%s)",
		e.Holder.PID, e.Holder.Started.Format(time.RFC3339), e.Path)
}

// Lock is a held instance lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock on <home>/LOCK and records
// the current process in it.
func Acquire(home string) (*Lock, error) {
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}
	path := filepath.Join(home, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			h, _ := ReadHolder(home)
			return nil, &LockHeldError{Holder: h, Path: path}
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	self := Holder{PID: os.Getpid(), Started: time.Now().UTC().Truncate(time.Second)}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(self.encode()), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the file. Safe to call on a nil or
// already released Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadHolder returns the process recorded in home's lock file. The file
// may be left over from a crashed daemon; only Acquire can tell.
func ReadHolder(home string) (Holder, error) {
	data, err := os.ReadFile(filepath.Join(home, fileName))
	if err != nil {
		return Holder{}, err
	}
	return parseHolder(string(data)), nil
}

func (h Holder) encode() string {
	return fmt.Sprintf("pid=%d\nstarted=%s\n", h.PID, h.Started.Format(time.RFC3339))
}

func parseHolder(content string) Holder {
	var h Holder
	for line := range strings.SplitSeq(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}
