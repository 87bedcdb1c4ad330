package machina

import "github.com/rotisserie/eris"

// Failure outcomes shared across the engine. Successful operations return a
// nil error; mutators additionally report a changed flag so that callers can
// detect no-op applications without an error round-trip.
var (
	// ErrInvalidArgument signals a malformed or out-of-range argument.
	ErrInvalidArgument = eris.New("invalid argument")

	// ErrInvalidState signals an operation attempted in a state that cannot
	// serve it, e.g. mutating a solid-locked iterable or using a disposed
	// chain.
	ErrInvalidState = eris.New("invalid state")

	// ErrConflict signals a request that contradicts already-applied state,
	// e.g. including and excluding the same component in one filter.
	ErrConflict = eris.New("conflicting request")

	// ErrNullArgument signals a required reference argument that was nil.
	ErrNullArgument = eris.New("null argument")

	// ErrNoMore signals iteration exhaustion. It is not a failure for
	// callers driving loops.
	ErrNoMore = eris.New("no more elements")

	// ErrNoImplementation signals a facility that is not provided.
	ErrNoImplementation = eris.New("no implementation")
)
