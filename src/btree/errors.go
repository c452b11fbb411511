package btree

// Add custom error definitions here
import "errors"

var (
	// ErrKeyNotFound is returned when an update targets a missing key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyAlreadyExists is returned when an insert finds the key present
	// and was not allowed to update it.
	ErrKeyAlreadyExists = errors.New("key already exists")

	// ErrTreeModified is returned when a mutation races an open iterator,
	// or when an iterator observes a structural change.
	ErrTreeModified = errors.New("tree was modified during iteration")

	// ErrNotReadOnly is returned when Validate is called on a writable
	// tree.
	ErrNotReadOnly = errors.New("validation requires a read-only store")

	// ErrPageTooSmall is returned when a page cannot hold the minimum
	// number of key-value pairs.
	ErrPageTooSmall = errors.New("page too small for the key and value sizes")
)
