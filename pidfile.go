package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFilePermissions = 0o644

var (
	errWatchRunning = errors.New("another o365-sync watch is already running")
	errNoWatch      = errors.New("no running watch")
)

// watchLock is the PID file a running watch holds under an exclusive flock.
// reload reads the PID back to find the process to signal.
type watchLock struct {
	path string
	f    *os.File
}

// acquireWatchLock creates path (and its directory), locks it and writes
// the current PID. It fails with errWatchRunning while another watch holds
// the lock.
func acquireWatchLock(path string) (*watchLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty: cannot determine the data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerms); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w (%s is locked)", errWatchRunning, path)
	}

	l := &watchLock{path: path, f: f}

	if err := l.stamp(os.Getpid()); err != nil {
		f.Close()
		return nil, err
	}

	return l, nil
}

// stamp replaces the file content with pid and flushes it.
func (l *watchLock) stamp(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the file and drops the lock.
func (l *watchLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

func parsePID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalWatch delivers sig to the watch recorded at path and returns its
// PID. A missing file or a dead process yields errNoWatch; a stale file is
// removed.
func signalWatch(path string, sig syscall.Signal) (int, error) {
	pid, err := parsePID(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: no PID file at %s", errNoWatch, path)
	}

	if err != nil {
		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if proc.Signal(syscall.Signal(0)) != nil {
		os.Remove(path)
		return 0, fmt.Errorf("%w: PID %d is gone (stale %s removed)", errNoWatch, pid, path)
	}

	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("signalling watch (PID %d): %w", pid, err)
	}

	return pid, nil
}
