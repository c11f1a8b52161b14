package livemark

import "errors"

var (
	// ErrInvalidArgument reports a request the service refuses outright, such
	// as nesting a livemark inside another or addressing a plain folder.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound reports a folder that is not a registered livemark.
	ErrNotFound = errors.New("livemark not found")
	// ErrDuplicateLivemark reports a second registration of one folder.
	ErrDuplicateLivemark = errors.New("livemark already registered")
)
