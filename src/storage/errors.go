package storage

// Add custom error definitions here
import "errors"

var (
	// ErrNilArgument is returned when a required input is absent.
	ErrNilArgument = errors.New("required argument is nil")

	// ErrOutOfRange is returned when a numeric input violates its domain.
	ErrOutOfRange = errors.New("argument out of range")

	// ErrInvalidArgument is returned when a structural precondition fails,
	// such as a page size below the minimum or a writable load of a store
	// without fixed capacity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrReadOnly is returned when a write is attempted on a read-only
	// store.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrFixedCapacity is returned when a resize is attempted on a
	// fixed-capacity store.
	ErrFixedCapacity = errors.New("storage capacity is fixed")

	// ErrPageNotAllocated is returned when I/O is attempted on a page that
	// has not been allocated.
	ErrPageNotAllocated = errors.New("page is not allocated")

	// ErrNotEnoughSpace is returned when an allocation or inflation is
	// refused by the backing medium.
	ErrNotEnoughSpace = errors.New("not enough space")

	// ErrCorrupt is returned when validation detects an on-storage
	// invariant violation.
	ErrCorrupt = errors.New("storage is corrupt")

	// ErrClosed is returned when a method is called on a closed store.
	ErrClosed = errors.New("storage is closed")

	// ErrSetModified is returned when a DataRegionSet is structurally
	// modified while it is being enumerated.
	ErrSetModified = errors.New("region set was modified during enumeration")
)
