// Package scriptgen writes small shell scripts that re-run an upload with a
// fixed identifier and directory.
package scriptgen

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/domain"
)

// ScriptMode is the permission of generated scripts
const ScriptMode os.FileMode = 0755

//go:embed templates/upload.sh.tmpl
var templates embed.FS

var uploadTemplate = template.Must(
	template.New("upload.sh.tmpl").
		Funcs(template.FuncMap{"quote": shellQuote}).
		ParseFS(templates, "templates/upload.sh.tmpl"),
)

// Options describe the generated script
type Options struct {
	Identifier string
	Dir        string
	// Binary defaults to "bulkupload" from PATH
	Binary     string
	ConfigFile string
	ExtraArgs  []string
	// Force replaces an existing file
	Force bool

	now func() time.Time
}

// Render produces the script text
func Render(opts Options) ([]byte, error) {
	if err := domain.ValidateIdentifier(opts.Identifier); err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: directory is required", domain.ErrConfigInvalid)
	}
	if opts.Binary == "" {
		opts.Binary = "bulkupload"
	}
	now := time.Now
	if opts.now != nil {
		now = opts.now
	}

	data := struct {
		Options
		Generated string
	}{opts, now().UTC().Format(time.RFC3339)}

	var buf bytes.Buffer
	if err := uploadTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render script: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders the script to path with ScriptMode
func Write(fs afero.Fs, path string, opts Options) error {
	content, err := Render(opts)
	if err != nil {
		return err
	}

	if !opts.Force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
		if exists {
			return fmt.Errorf("%s already exists: %w", path, os.ErrExist)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(fs, path, content, ScriptMode); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := fs.Chmod(path, ScriptMode); err != nil {
		return fmt.Errorf("failed to chmod script: %w", err)
	}
	return nil
}

// shellQuote wraps s in single quotes for POSIX sh
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
