// Package daemon tracks long-running watch processes through PID files,
// one per identifier, so that a watcher can be found and stopped from
// another shell.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ning0612/bulkupload/internal/domain"
)

var (
	// ErrNotRunning is returned when no live watcher owns the PID file
	ErrNotRunning = errors.New("no watcher is running for this identifier")
	// ErrAlreadyRunning is returned by Write when a live watcher exists
	ErrAlreadyRunning = errors.New("a watcher is already running for this identifier")
)

// PIDFile manages one watcher's process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// WatchPIDPath returns the PID file of the watcher for identifier
func WatchPIDPath(dataDir, identifier string) (string, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "watch", identifier+".pid"), nil
}

// Path returns the PID file location
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. A file left by a dead process is
// replaced; a live one yields ErrAlreadyRunning.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	content := []byte(strconv.Itoa(os.Getpid()) + "\n")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.Write(content)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(p.path)
				return fmt.Errorf("failed to write PID file: %w", werr)
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create PID file: %w", err)
		}

		if pid, running := p.running(); running {
			return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
		}
		// stale
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return fmt.Errorf("%w: PID file %s keeps reappearing", ErrAlreadyRunning, p.path)
}

// Read reads the PID from the PID file
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// Remove removes the PID file if it still belongs to this process
func (p *PIDFile) Remove() error {
	if pid, err := p.Read(); err == nil && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

func (p *PIDFile) running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, isProcessRunning(pid)
}

// IsRunning reports the live watcher's PID
func (p *PIDFile) IsRunning() (int, bool) {
	return p.running()
}

// Stop asks the watcher to shut down. A stale file is removed and
// reported as ErrNotRunning.
func (p *PIDFile) Stop() (int, error) {
	pid, running := p.running()
	if !running {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to remove stale PID file: %w", err)
		}
		return 0, ErrNotRunning
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to stop the current process (PID %d)", pid)
	}
	return pid, killProcess(pid)
}
