package publish

import "context"

// Publisher pushes one serialized moderation event to one universe's
// messaging topic. Implementations own their own retry policy; the broadcast
// dispatcher treats any returned error as a failed delivery for that
// universe.
type Publisher interface {
	Publish(ctx context.Context, universeID string, message []byte) error
}
