package voice

import "context"

// Platform is the provider-agnostic contract for the hosted voice-agent
// platform that actually dials and runs the conversation.
//
// Rules:
// - No platform REST calls outside this package.
// - The returned call id is the correlation key for every later webhook;
//   callers must persist it before relying on webhook delivery.
type Platform interface {
	// PlaceCall starts an outbound call and returns the platform's call id.
	// vars parameterize the assistant (user name, history summary, ...).
	PlaceCall(ctx context.Context, phone string, vars map[string]any) (string, error)

	// GetTranscript fetches the current transcript for a call, or "" when
	// the platform has none.
	GetTranscript(ctx context.Context, externalCallID string) (string, error)

	// EndCall hangs up an in-progress call. Explicit operator action; the
	// scheduler never calls this on its own.
	EndCall(ctx context.Context, externalCallID string) error
}
