package core

import "fmt"

var (
	// ErrNotFound is returned when a long-term memory with the requested
	// name does not exist in the engine.
	ErrNotFound = fmt.Errorf("memory not found")

	// ErrEmptyMessages is returned when an operation requires at least one
	// non-blank conversational message.
	ErrEmptyMessages = fmt.Errorf("no messages provided")
)
