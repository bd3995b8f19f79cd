package orm

import "errors"

var (
	// ErrNoConnection is returned when no connection has been registered
	ErrNoConnection = errors.New("no database connection")
	// ErrConfiguration is returned when connection configuration is missing or invalid
	ErrConfiguration = errors.New("invalid configuration")
	// ErrConnection is returned when driver construction or connection fails
	ErrConnection = errors.New("connection failed")
	// ErrNotFound is returned when introspection targets a nonexistent table or field
	ErrNotFound = errors.New("not found")
	// ErrExecution is returned when the active driver fails to execute a statement
	ErrExecution = errors.New("execution failed")
)
