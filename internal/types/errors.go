package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidUpload wraps every reason an upload is refused
	ErrInvalidUpload = errors.New("invalid upload")

	ErrQueueFull      = errors.New("processing queue is full")
	ErrShuttingDown   = errors.New("service is shutting down")
	ErrJobActive      = errors.New("job is still running")
	ErrNoTransactions = errors.New("no transactions found")
)

// ErrFileNotExists is an error when an upload or result does not exist on storage
type ErrFileNotExists struct {
	Name string
}

func (e ErrFileNotExists) Error() string {
	return fmt.Sprintf("no file found %v", e.Name)
}

// ErrJobNotFound is returned for unknown job IDs
type ErrJobNotFound struct {
	ID ID
}

func (e ErrJobNotFound) Error() string {
	return fmt.Sprintf("no job found ID %v", e.ID)
}

// IsNotFound reports whether err means a job or file does not exist.
func IsNotFound(err error) bool {
	var fe ErrFileNotExists
	var je ErrJobNotFound
	return errors.As(err, &fe) || errors.As(err, &je)
}
