package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only. There are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records carrier call events. Callers should treat event logging as
// best-effort: a failed append must never block webhook acknowledgement.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("calllog: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("calllog: repository not configured")
	}
	if e.CallControlID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}
