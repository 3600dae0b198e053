package domain

import "errors"

// ErrNoConnection is returned by projectors while no database connection is
// available. Callers retry once the connection is re-established.
var ErrNoConnection = errors.New("no database connection")
