package state

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
)

// lockFile is the on-disk shape of the single-instance lock.
type lockFile struct {
	Version    int    `json:"version"`
	InstanceID string `json:"instance_id"`
	PID        int    `json:"pid"`
	Hostname   string `json:"hostname"`
}

// LockHeldError means another live instance owns the config.
type LockHeldError struct {
	Path     string
	PID      int
	Hostname string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf(
		"another instance is already running (pid %d on %s); stop it first, or remove %s if you are sure it is gone",
		e.PID, e.Hostname, e.Path)
}

// Lock is a held instance lock.
type Lock struct {
	path string
	id   string
}

// AcquireLock takes the instance lock at path (conventionally the config
// path plus ".lock"). A lock held by a live pid on this host fails with
// LockHeldError; a stale lock from a dead pid is replaced.
func AcquireLock(path string) (*Lock, error) {
	hostname, _ := os.Hostname()

	if data, err := os.ReadFile(path); err == nil {
		var held lockFile
		if json.Unmarshal(data, &held) == nil && held.PID > 0 {
			if held.Hostname != hostname || pidAlive(held.PID) {
				return nil, &LockHeldError{Path: path, PID: held.PID, Hostname: held.Hostname}
			}
		}
		// Unreadable or stale: fall through and replace it.
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read lock %s: %w", path, err)
	}

	l := &Lock{path: path, id: uuid.NewString()}
	data, err := json.MarshalIndent(lockFile{
		Version:    1,
		InstanceID: l.id,
		PID:        os.Getpid(),
		Hostname:   hostname,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return nil, err
	}
	return l, nil
}

// Release removes the lock file if this instance still owns it.
func (l *Lock) Release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var held lockFile
	if json.Unmarshal(data, &held) == nil && held.InstanceID == l.id {
		os.Remove(l.path)
	}
}

// pidAlive probes a pid with signal 0.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
