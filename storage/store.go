package storage

import (
	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
)

// Namespaces used by the client. Each namespace is an independent key space.
const (
	NamespaceSession    = "session"
	NamespaceAttendance = "attendance"
	NamespaceProfile    = "profile"
	NamespaceDevice     = "device"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = appErrors.ErrNotFound

// Store is the durable key-value capability the client persists through.
// Values are JSON encoded; v passed to Get must be a pointer.
type Store interface {
	// Get decodes the value stored under namespace/key into v
	Get(namespace, key string, v any) error

	// Set encodes v and stores it under namespace/key, replacing any existing value
	Set(namespace, key string, v any) error

	// Delete removes namespace/key. Deleting a missing key is not an error
	Delete(namespace, key string) error

	// Clear removes every key in namespace
	Clear(namespace string) error
}
