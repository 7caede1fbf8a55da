package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/Ning0612/bulkupload/internal/domain"
)

const (
	// Extension is appended to the identifier to form the lock file name
	Extension = ".lock"
	// DefaultStaleTimeout is the age after which a lock written by another
	// host is considered abandoned
	DefaultStaleTimeout = 24 * time.Hour
)

// Info describes the run holding a lock
type Info struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	StartTime  time.Time `json:"start_time"`
	Identifier string    `json:"identifier"`
}

// FileLock serializes runs against one identifier. Two runs for different
// identifiers never contend.
type FileLock struct {
	path         string
	identifier   string
	staleTimeout time.Duration
	held         *Info
}

// New creates the lock for identifier inside dir. The directory is created
// when missing.
func New(dir, identifier string) (*FileLock, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("lock directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path:         filepath.Join(dir, identifier+Extension),
		identifier:   identifier,
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// SetStaleTimeout changes the cross-host stale timeout; 0 disables age based
// recovery
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock. A live holder yields a *HeldError matching
// domain.ErrLockHeld; a stale lock is removed and taken over.
func (l *FileLock) Acquire() error {
	if l.held != nil {
		if current, err := l.read(); err == nil && l.ownedBy(current) {
			return nil
		}
		l.held = nil
	}

	current, err := l.read()
	switch {
	case err == nil && !l.isStale(current):
		return &HeldError{Holder: current}
	case err == nil, errors.Is(err, errCorrupt):
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read lock: %w", err)
	}

	hostname, _ := os.Hostname()
	info := &Info{
		PID:        os.Getpid(),
		Hostname:   hostname,
		StartTime:  time.Now(),
		Identifier: l.identifier,
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// lost the race against another run
			if holder, readErr := l.read(); readErr == nil {
				return &HeldError{Holder: holder}
			}
			return &HeldError{}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err == nil {
		_, err = file.Write(data)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	l.held = info
	return nil
}

// Release removes the lock if this instance still owns it
func (l *FileLock) Release() error {
	if l.held == nil {
		return nil
	}
	defer func() { l.held = nil }()

	current, err := l.read()
	if err != nil {
		return nil
	}
	if !l.ownedBy(current) {
		return fmt.Errorf("lock %s was taken over by PID %d", l.path, current.PID)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live run holds the lock
func (l *FileLock) IsLocked() bool {
	info, err := l.read()
	return err == nil && !l.isStale(info)
}

// Holder returns the live holder of the lock
func (l *FileLock) Holder() (*Info, error) {
	info, err := l.read()
	if err != nil {
		return nil, err
	}
	if l.isStale(info) {
		return nil, fmt.Errorf("lock %s is stale", l.path)
	}
	return info, nil
}

var errCorrupt = errors.New("corrupt lock file")

func (l *FileLock) read() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return &info, nil
}

// isStale: on the same host only a dead PID makes a lock stale; a lock from
// another host expires after staleTimeout.
func (l *FileLock) isStale(info *Info) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !processAlive(info.PID)
	}
	return l.staleTimeout > 0 && time.Since(info.StartTime) > l.staleTimeout
}

func (l *FileLock) ownedBy(info *Info) bool {
	if l.held == nil {
		return false
	}
	return info.PID == l.held.PID &&
		info.Hostname == l.held.Hostname &&
		info.StartTime.Equal(l.held.StartTime)
}

// HeldError reports the run currently holding a lock
type HeldError struct {
	Holder *Info
}

func (e *HeldError) Error() string {
	if e.Holder == nil {
		return domain.ErrLockHeld.Error()
	}
	return fmt.Sprintf("%s (PID %d on %s since %s)",
		domain.ErrLockHeld,
		e.Holder.PID,
		e.Holder.Hostname,
		e.Holder.StartTime.Format(time.RFC3339),
	)
}

// Unwrap lets errors.Is match domain.ErrLockHeld
func (e *HeldError) Unwrap() error {
	return domain.ErrLockHeld
}
