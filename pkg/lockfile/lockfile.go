// Package lockfile implements the opt-in run lock. When enabled, a run holds
// a lock file in the destination root and a second invocation against the
// same destination refuses to start. The lock carries a heartbeat so a lock
// left behind by a crashed run goes stale and can be taken over.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

// LockFileName is the name of the lock file created in the destination root.
// The '~' prefix marks it as temporary.
const LockFileName = ".~" + buildinfo.BinaryName + ".lock"

// LockContent defines the structure of the data written to the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"` // Used for takeover race resolution
	AppID      string    `json:"appID"`
}

// ErrLockActive is a structured error returned when a lock is already held by another process.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is active, held by PID %d on host '%s' (App: %s), last updated %s ago", e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process wins a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates that the lock file on disk is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

const (
	defaultHeartbeat = time.Minute
	maxAttempts      = 3
)

// Locker acquires locks. Time is read from its clock so staleness and the
// heartbeat can be driven in tests.
type Locker struct {
	clock     clock.Clock
	heartbeat time.Duration
}

// NewLocker returns a Locker on clk.
func NewLocker(clk clock.Clock) *Locker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Locker{clock: clk, heartbeat: defaultHeartbeat}
}

// staleTimeout is defined in relation to the heartbeat to ensure a safe margin.
func (lk *Locker) staleTimeout() time.Duration {
	return 3 * lk.heartbeat
}

// Lock is a held lock file.
type Lock struct {
	locker  *Locker
	path    string
	content LockContent
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	held    bool
}

// Acquire attempts to acquire the lock in dirPath.
// It returns (nil, *ErrLockActive) if the lock is already held.
func (lk *Locker) Acquire(ctx context.Context, dirPath string, appID string) (*Lock, error) {
	lockPath := filepath.Join(dirPath, LockFileName)

	for range maxAttempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lock, err := lk.tryAcquire(lockPath, appID)
		if err == nil {
			lock.startHeartbeat()
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		content, readErr := readLockContent(lockPath)
		switch {
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", lockPath, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create attempt and the read.
			continue
		case readErr != nil:
			return nil, fmt.Errorf("failed to read lock file: %w", readErr)
		default:
			elapsed := lk.clock.Now().Sub(content.LastUpdate)
			if elapsed < lk.staleTimeout() {
				return nil, &ErrLockActive{
					PID:       content.PID,
					Hostname:  content.Hostname,
					AppID:     content.AppID,
					TimeSince: elapsed,
				}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", content.PID, "age", elapsed)
		}

		lock, takeoverErr := lk.takeover(lockPath, appID)
		if takeoverErr != nil {
			if errors.Is(takeoverErr, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Failed to attempt lock takeover, retrying", "error", takeoverErr)
			}
			continue
		}
		lock.startHeartbeat()
		return lock, nil
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

func (lk *Locker) newContent(appID string) (LockContent, error) {
	nonce, err := generateNonce()
	if err != nil {
		return LockContent{}, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, err
	}
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: lk.clock.Now().UTC(),
		Nonce:      nonce,
		AppID:      appID,
	}, nil
}

// tryAcquire attempts atomic creation using O_EXCL to guarantee "I created this file first".
func (lk *Locker) tryAcquire(lockPath, appID string) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := lk.newContent(appID)
	if err == nil {
		err = writeLockContent(f, content)
	}
	if err != nil {
		// Do not leave an empty lock file behind.
		f.Close()
		_ = os.Remove(lockPath)
		return nil, err
	}
	return lk.newLock(lockPath, content), nil
}

// takeover replaces a stale or corrupt lock through an atomic rename and
// reads it back to find out who won.
func (lk *Locker) takeover(lockPath, appID string) (*Lock, error) {
	content, err := lk.newContent(appID)
	if err != nil {
		return nil, err
	}
	if err := updateLockFileAtomic(lockPath, content); err != nil {
		return nil, err
	}

	readback, err := readLockContent(lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.PID == content.PID && readback.Nonce == content.Nonce {
		plog.Debug("Successfully took over stale lock")
		return lk.newLock(lockPath, content), nil
	}
	return nil, ErrLostRace
}

func (lk *Locker) newLock(lockPath string, content LockContent) *Lock {
	return &Lock{
		locker:  lk,
		path:    lockPath,
		content: content,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		held:    true,
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release stops the heartbeat and removes the file. A second call is a no-op.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	close(l.stop)
	<-l.done
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	} else {
		plog.Debug("Lock released", "path", l.path)
	}
	l.held = false
}

func (l *Lock) startHeartbeat() {
	go func() {
		defer close(l.done)
		for {
			select {
			case <-l.stop:
				return
			case <-l.locker.clock.After(l.locker.heartbeat):
				l.content.LastUpdate = l.locker.clock.Now().UTC()
				if err := updateLockFileAtomic(l.path, l.content); err != nil {
					plog.Warn("Heartbeat failed to update lock file", "error", err)
				}
			}
		}
	}()
}

// updateLockFileAtomic writes the content to a temporary file in the same
// directory and renames it over the lock file, so the lock file is never
// observed empty.
func updateLockFileAtomic(lockPath string, content LockContent) error {
	tmpF, err := os.CreateTemp(filepath.Dir(lockPath), filepath.Base(lockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmpF.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmpF.Name(), "error", err)
		}
	}()

	if err := writeLockContent(tmpF, content); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return err
	}
	// Must close the file before renaming (mandatory on Windows).
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpF.Name(), lockPath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// generateNonce creates a new random 16-byte token and returns it as a hex string.
func generateNonce() (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return fmt.Sprintf("%x", nonceBytes), nil
}

func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

func readLockContent(lockPath string) (LockContent, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return LockContent{}, err
	}
	if len(data) == 0 {
		return LockContent{}, fmt.Errorf("%w: file is empty", ErrCorruptLockFile)
	}
	var content LockContent
	if err := json.Unmarshal(data, &content); err != nil {
		return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, err)
	}
	return content, nil
}
