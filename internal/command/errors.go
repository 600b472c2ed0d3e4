package command

import "errors"

// Domain-specific errors for command operations.
var (
	// ErrCommandNotFound is returned for an unknown command id.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrNodeOffline is returned by Issue when the target is not online.
	ErrNodeOffline = errors.New("command: node offline")

	// ErrInvalidCommand is returned for an empty command name.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrInvalidResponse is returned by ParseResponse for malformed payloads.
	ErrInvalidResponse = errors.New("command: invalid response")
)
