package common

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage wraps any I/O failure while reading, writing or enumerating segments.
	ErrStorage = errors.New("storage failure")
	// ErrCancelled is returned by a scan that was stopped by its caller.
	ErrCancelled = errors.New("scan cancelled")
	// ErrConfiguration means the request is inconsistent and was rejected before any work started.
	ErrConfiguration = errors.New("invalid configuration")
)

// StorageErr tags err as a storage failure, keeping the original error reachable via errors.Is/As.
func StorageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, path, err)
}

func ConfigurationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
