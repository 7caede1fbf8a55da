package main

import (
	"context"
	"errors"

	"github.com/Ning0612/bulkupload/internal/domain"
)

// Exit codes
const (
	exitOK            = 0
	exitError         = 1
	exitUsage         = 2
	exitEmpty         = 3
	exitInvalidChoice = 4
	exitMismatch      = 5
	exitCancelled     = 130
)

var (
	// errUsage marks bad arguments or flags
	errUsage = errors.New("usage error")
	// errMismatch marks a verification that found differences
	errMismatch = errors.New("verification found mismatches")
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, domain.ErrDirectoryEmpty):
		return exitEmpty
	case errors.Is(err, domain.ErrInvalidChoice):
		return exitInvalidChoice
	case errors.Is(err, errMismatch):
		return exitMismatch
	case errors.Is(err, errUsage),
		errors.Is(err, domain.ErrDirectoryNotFound),
		errors.Is(err, domain.ErrNotADirectory),
		errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrConfigNotFound),
		errors.Is(err, domain.ErrConfigInvalid),
		errors.Is(err, domain.ErrTransportNotFound):
		return exitUsage
	default:
		return exitError
	}
}
