package domain

import "errors"

// Store errors - 遠端儲存層錯誤
var (
	// ErrRemoteUnavailable indicates the remote inventory could not be fetched
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrUploadRejected indicates the remote store refused a transfer
	ErrUploadRejected = errors.New("upload rejected")

	// ErrUnreadableFile indicates a local file could not be opened or read
	ErrUnreadableFile = errors.New("unreadable local file")
)

// Sync errors - 同步邏輯層錯誤
var (
	// ErrDirectoryNotFound indicates the local directory does not exist
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrNotADirectory indicates the local path exists but is not a directory
	ErrNotADirectory = errors.New("not a directory")

	// ErrDirectoryEmpty indicates the local directory holds no regular files
	ErrDirectoryEmpty = errors.New("no files found in directory")

	// ErrInvalidIdentifier indicates a malformed item identifier
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidEntry indicates a ledger entry failed validation
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrLockHeld indicates another run already holds the identifier lock
	ErrLockHeld = errors.New("another run is in progress for this identifier")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrTransportNotFound indicates the configured transport is unknown
	ErrTransportNotFound = errors.New("transport not found")

	// ErrInvalidChoice indicates an invalid interactive menu selection
	ErrInvalidChoice = errors.New("invalid choice")
)
