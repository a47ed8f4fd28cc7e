package repositories

import "errors"

// ErrNotFound is returned when a requested row does not exist.
// Services translate it into entities.NotFoundError with resource context.
var ErrNotFound = errors.New("not found")
