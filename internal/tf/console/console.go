// Package console provides sources of raw game console output.
package console

import (
	"context"
	"errors"
)

var ErrOpen = errors.New("failed to open console source")

// Receiver accepts raw console lines, normally the events.Router.
type Receiver interface {
	Send(line string)
}

// Source is a provider of raw console log lines.
type Source interface {
	Open(ctx context.Context) error
	// Start blocks, feeding every line read into the receiver until the context
	// is cancelled or Close is called.
	Start(ctx context.Context, receiver Receiver)
	Close(ctx context.Context) error
}
