package datasource

import "errors"

// ErrNotFound is the sentinel a DataSource implementation should wrap
// (fmt.Errorf("...: %w", ErrNotFound)) when FindOne, Update, or Delete
// target a pk that does not exist, so callers can distinguish a genuine
// miss from a transport failure.
var ErrNotFound = errors.New("datasource: entity not found")
