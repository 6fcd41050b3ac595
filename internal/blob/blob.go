// Package blob stores call artifacts (recordings, transcripts) in object
// storage. Two bucket classes exist: legal is the immutable long-retention
// copy kept for compliance, active is the working set the product reads.
package blob

import (
	"context"
	"errors"
)

// Class selects the target bucket.
type Class string

const (
	ClassLegal  Class = "legal"
	ClassActive Class = "active"
)

var (
	ErrUnknownClass = errors.New("blob: unknown bucket class")
	ErrNotFound     = errors.New("blob: object not found")
)

// Store is the object storage contract.
type Store interface {
	Put(ctx context.Context, class Class, key string, data []byte, contentType string) error
	Get(ctx context.Context, class Class, key string) ([]byte, error)
}
