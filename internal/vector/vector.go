// Package vector submits anonymized conversation documents to a similarity
// index and queries it for related past conversations. Only non-identifying
// fields ever leave this process; anonymization happens upstream.
package vector

import (
	"context"

	"companion-calls/internal/analysis"
)

// Index is the similarity index contract.
type Index interface {
	Index(ctx context.Context, doc analysis.ConversationDoc) error
	QuerySimilar(ctx context.Context, topics []string, limit int) ([]analysis.ConversationDoc, error)
}
