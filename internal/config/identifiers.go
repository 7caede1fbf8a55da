package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/domain"
)

// IdentifiersFileName is the identifier memory file inside the data dir
const IdentifiersFileName = "identifiers.json"

// Identifiers remembers the last local directory used with each identifier
type Identifiers struct {
	fs      afero.Fs
	path    string
	entries map[string]string
}

// LoadIdentifiers reads the identifier memory. A missing file is an empty
// memory.
func LoadIdentifiers(fs afero.Fs, dataDir string) (*Identifiers, error) {
	m := &Identifiers{
		fs:      fs,
		path:    filepath.Join(dataDir, IdentifiersFileName),
		entries: make(map[string]string),
	}

	data, err := afero.ReadFile(fs, m.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.path, err)
	}
	if len(data) == 0 {
		return m, nil
	}

	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, m.path, err)
	}
	return m, nil
}

// Names returns the remembered identifiers in sorted order
func (m *Identifiers) Names() []string {
	names := make([]string, 0, len(m.entries))
	for id := range m.entries {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Dir returns the last directory used with identifier
func (m *Identifiers) Dir(identifier string) (string, bool) {
	dir, ok := m.entries[identifier]
	return dir, ok
}

// Len returns the number of remembered identifiers
func (m *Identifiers) Len() int {
	return len(m.entries)
}

// Remember records dir as the last directory used with identifier
func (m *Identifiers) Remember(identifier, dir string) error {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("%w: empty directory for %s", domain.ErrConfigInvalid, identifier)
	}
	m.entries[identifier] = dir
	return nil
}

// Save writes the memory through a temp file and a rename
func (m *Identifiers) Save() error {
	data, err := json.MarshalIndent(m.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode identifiers: %w", err)
	}

	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write identifiers: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("failed to replace identifiers: %w", err)
	}
	return nil
}

// Path returns the file backing the memory
func (m *Identifiers) Path() string {
	return m.path
}
