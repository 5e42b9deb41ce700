package dispatch

import "context"

// Transport opens a sending session for one run.
type Transport interface {
	Open(ctx context.Context) (Session, error)
}

// Session sends messages synchronously. Send returns the number of
// attachments included in the delivered message.
type Session interface {
	Send(ctx context.Context, msg Message, attachments []string) (int, error)
	Close() error
}
