package patient

import "errors"

// ErrNotFound is returned when no patient matches the given id.
var ErrNotFound = errors.New("patient not found")
