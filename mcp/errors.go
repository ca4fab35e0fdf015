package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingArgument indicates a required tool argument was not supplied
	ErrMissingArgument = errors.New("missing tool argument")

	// ErrInvalidArgument indicates a tool argument has the wrong type
	ErrInvalidArgument = errors.New("invalid tool argument")
)

// ArgumentError names the tool argument that failed.
type ArgumentError struct {
	Tool     string
	Argument string
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Argument, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
