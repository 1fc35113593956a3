package relay

import "context"

// TargetClient is the capability set the relay needs from the external
// relay target (a single chat on the far platform). Deliver calls
// return the identifier the target assigned to the delivered message;
// that identifier becomes the correlation key for replies.
type TargetClient interface {
	DeliverText(ctx context.Context, label, text string) (key string, err error)
	DeliverMedia(ctx context.Context, label, path, caption string) (key string, err error)
	DeliverAlert(ctx context.Context, text string) error
}
