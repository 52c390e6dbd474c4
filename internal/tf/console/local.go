package console

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/nxadm/tail"
)

func NewLocal(filePath string) *Local {
	return &Local{
		tail:     nil,
		stopChan: make(chan any),
		filePath: filePath,
	}
}

// Local handles "tail"-ing the console.log file that the game produces when
// launched with -condebug. The file is rotated by the game on map changes, so
// the tail must survive truncation and reopen.
type Local struct {
	tail     *tail.Tail
	stopChan chan any
	filePath string
}

func (l *Local) Close(_ context.Context) error {
	if l.tail == nil || l.stopChan == nil {
		return nil
	}

	l.stopChan <- "ahh!"

	return nil
}

func (l *Local) Open(_ context.Context) error {
	if l.tail != nil && l.tail.Filename == l.filePath {
		return nil
	}

	tailConfig := tail.Config{
		// Start at the end of the file, only watch for new lines.
		Location: &tail.SeekInfo{
			Offset: 0,
			Whence: io.SeekEnd,
		},
		Logger:    tail.DiscardingLogger,
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
	}

	tailFile, errTail := tail.TailFile(l.filePath, tailConfig)
	if errTail != nil {
		return errors.Join(errTail, ErrOpen)
	}

	if l.tail != nil {
		l.stopChan <- true
	}

	l.tail = tailFile

	return nil
}

// Start begins reading incoming log lines and feeding them into the receiver.
func (l *Local) Start(ctx context.Context, receiver Receiver) {
	stop := func() {
		if l.tail == nil {
			return
		}
		if errStop := l.tail.Stop(); errStop != nil {
			slog.Error("Failed to stop tailing console.log cleanly", slog.String("error", errStop.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()

			return
		case msg := <-l.tail.Lines:
			if msg == nil {
				continue // Happens on linux only?
			}

			receiver.Send(msg.Text)
		case <-l.stopChan:
			stop()

			return
		}
	}
}
