// Package storage provides the record store abstraction behind the session
// tiers. Records are sealed Envelopes addressed by namespace, type and ID.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when no record was ever written to a namespace.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// BatchTx provides Put and Delete within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for sealed record storage.
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	Delete(namespace string, recordType string, recordID string) error
	List(namespace string, recordType string) ([]string, error)
	// Batch runs fn atomically: either every write inside it lands or none do.
	Batch(namespace string, fn func(tx BatchTx) error) error
}

// IsMissing reports whether err means the record (or its namespace) is absent.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNamespaceNotFound)
}
