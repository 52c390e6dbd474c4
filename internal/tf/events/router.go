package events

import (
	"errors"
	"log/slog"
	"sync"
)

func NewRouter() *Router {
	return &Router{
		parser:    newParser(),
		readers:   make(map[EventType][]chan<- Event),
		readersMu: &sync.RWMutex{},
	}
}

// Router handles receiving raw log lines from a console source, parsing them into
// an Event and sending the parsed event to any registered handlers for that type.
type Router struct {
	readersAny []chan<- Event
	readers    map[EventType][]chan<- Event
	readersMu  *sync.RWMutex
	parser     *parser
}

// ListenFor registers a channel to start receiving events of the specified type.
func (l *Router) ListenFor(logType EventType, handler chan<- Event) {
	l.readersMu.Lock()
	defer l.readersMu.Unlock()

	// Any case is handled more generally
	if logType == Any {
		l.readersAny = append(l.readersAny, handler)

		return
	}

	if _, found := l.readers[logType]; !found {
		l.readers[logType] = make([]chan<- Event, 0)
	}

	l.readers[logType] = append(l.readers[logType], handler)
}

// Send parses a line and forwards the result to any matching registered channels.
// A line that matches an event shape but cannot be decoded is dropped with a
// warning, a single corrupt line must never halt ingestion.
func (l *Router) Send(line string) {
	logEvent, err := l.parser.parse(line)
	if err != nil {
		if !errors.Is(err, ErrNoMatch) {
			slog.Warn("Dropping malformed console line", slog.String("error", err.Error()),
				slog.String("line", line))

			return
		}

		logEvent = Event{Type: Any, Raw: line, Data: AnyEvent{Raw: line}}
	}

	l.readersMu.RLock()
	defer l.readersMu.RUnlock()

	if handlers, found := l.readers[logEvent.Type]; found {
		for _, handler := range handlers {
			handler <- logEvent
		}
	}

	for _, handler := range l.readersAny {
		handler <- logEvent
	}
}
