// Package storage provides database abstractions.
package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned when a transaction lost a commit race and
	// must be retried or abandoned by the caller.
	ErrConflict = errors.New("transaction conflict")
)

// Tx is a single atomic view of the database. All reads and writes made
// through a Tx commit together or not at all.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates keys with the given prefix in ascending key order.
	// The callback receives copies of the key and value. Return a non-nil
	// error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// ForEachReverse iterates keys with the given prefix in descending
	// key order.
	ForEachReverse(prefix []byte, fn func(key, value []byte) error) error
}

// DB is the interface for transactional key-value storage.
type DB interface {
	// View runs fn in a read-only transaction.
	View(fn func(Tx) error) error
	// Update runs fn in a read-write transaction. If fn returns an error
	// the transaction is rolled back and the error is returned.
	Update(fn func(Tx) error) error
	Close() error
}
