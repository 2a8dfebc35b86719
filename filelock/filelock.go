// Package filelock provides a simple file-based mutual exclusion lock.
// It ensures that only one process can hold a lock for a given file at a
// time, even across multiple processes sharing the same state directory.
package filelock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockHeld is returned when attempting to acquire a lock that is already held.
var ErrLockHeld = fmt.Errorf("lock already held")

// LockInfo describes the holder of a lock file.
type LockInfo struct {
	PID       int    `json:"pid"`
	Timestamp string `json:"timestamp"`
	Hostname  string `json:"hostname,omitempty"`
}

// TryLock attempts to acquire a lock for the given file.
// Returns a function to release the lock, or an error if the lock could not
// be acquired. The lock file records the holder's PID and timestamp so a
// stale lock can be diagnosed by hand.
func TryLock(path string) (func(), error) {
	// Convert to absolute path to handle relative paths consistently
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	lockFile := absPath + ".lock"

	// O_EXCL ensures that this call creates the file - if it already exists, it will fail
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockHeld
		}
		return nil, err
	}

	hostname, _ := os.Hostname()
	info := LockInfo{
		PID:       os.Getpid(),
		Timestamp: time.Now().Format(time.RFC3339),
		Hostname:  hostname,
	}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		f.Close()
		os.Remove(lockFile)
		return nil, fmt.Errorf("failed to write lock info: %w", err)
	}
	f.Close()

	unlock := func() {
		os.Remove(lockFile)
	}

	return unlock, nil
}

// ReadLockInfo reads the holder information recorded in the lock file for path.
func ReadLockInfo(path string) (*LockInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath + ".lock")
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file: %w", err)
	}
	return &info, nil
}

// WithLock acquires the lock for path, runs fn, and releases the lock.
// It returns ErrLockHeld without running fn if another holder owns the lock.
func WithLock(path string, fn func() error) error {
	unlock, err := TryLock(path)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
