package blobcache

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when no live entry exists for a key. Expired
	// entries are reported the same way as entries that were never written.
	ErrKeyNotFound = errors.New("key not found in cache")
	// ErrSerialization marks encode and decode failures.
	ErrSerialization = errors.New("serialization failed")
	// ErrFetchFailed marks failures of a read-through fetch operation.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrConfiguration marks a required collaborator that was never configured.
	ErrConfiguration = errors.New("cache is not configured")
)

// SerializationError reports a failed Marshal or Unmarshal for a key.
type SerializationError struct {
	Key string
	Op  string // "encode" or "decode"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s value for key '%s': %v", e.Op, e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrSerialization.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// FetchError wraps the error returned by a fetch operation. The store is left
// exactly as it was before the fetch started.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch for key '%s': %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrFetchFailed.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// ConfigurationError names the collaborator missing from Config.
type ConfigurationError struct {
	Collaborator string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no %s configured for blob cache", e.Collaborator)
}

// Is lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NotFound returns an error for key that matches ErrKeyNotFound.
func NotFound(key string) error {
	return fmt.Errorf("key '%s': %w", key, ErrKeyNotFound)
}
