// Package uuid issues random identifiers for requests and server-side tickets.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
