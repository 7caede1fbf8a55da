package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/Ning0612/bulkupload/internal/domain"
)

const customIdentifier = "Enter a new identifier..."

// prompter asks the user for the upload target
type prompter interface {
	// SelectIdentifier offers the remembered identifiers plus a custom entry
	SelectIdentifier(remembered []string) (string, error)
	// Directory asks for the local directory, proposing def
	Directory(def string) (string, error)
}

// promptUI implements prompter on a terminal
type promptUI struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func newPromptUI(in io.Reader, out io.Writer) *promptUI {
	rc, ok := in.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(in)
	}
	wc, ok := out.(io.WriteCloser)
	if !ok {
		wc = nopWriteCloser{out}
	}
	return &promptUI{in: rc, out: wc}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (p *promptUI) SelectIdentifier(remembered []string) (string, error) {
	items := append(append([]string{}, remembered...), customIdentifier)

	sel := promptui.Select{
		Label: "Select an item identifier",
		Items: items,
		Size:  10,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "▸ {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "Identifier: {{ . }}",
		},
		HideHelp: true,
		Stdin:    p.in,
		Stdout:   p.out,
	}

	idx, _, err := sel.Run()
	if err != nil {
		return "", promptError(err)
	}
	if idx < 0 || idx >= len(items) {
		return "", fmt.Errorf("%w: %d", domain.ErrInvalidChoice, idx)
	}
	if idx < len(remembered) {
		return remembered[idx], nil
	}

	prompt := promptui.Prompt{
		Label:    "Item identifier",
		Validate: domain.ValidateIdentifier,
		Stdin:    p.in,
		Stdout:   p.out,
	}
	id, err := prompt.Run()
	if err != nil {
		return "", promptError(err)
	}
	return strings.TrimSpace(id), nil
}

func (p *promptUI) Directory(def string) (string, error) {
	prompt := promptui.Prompt{
		Label:     "Local directory",
		Default:   def,
		AllowEdit: def != "",
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("directory cannot be empty")
			}
			return nil
		},
		Stdin:  p.in,
		Stdout: p.out,
	}
	dir, err := prompt.Run()
	if err != nil {
		return "", promptError(err)
	}
	return strings.TrimSpace(dir), nil
}

// promptError maps Ctrl-C to cancellation and a closed input to an invalid
// choice
func promptError(err error) error {
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return context.Canceled
	case errors.Is(err, promptui.ErrEOF), errors.Is(err, promptui.ErrAbort), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", domain.ErrInvalidChoice, err)
	default:
		return fmt.Errorf("prompt failed: %w", err)
	}
}
