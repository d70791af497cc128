package domain

import "fmt"

// ErrNotFound is returned when a handle does not resolve within a transaction.
type ErrNotFound struct {
	Entity EntityType
	Handle Handle
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Handle)
}
