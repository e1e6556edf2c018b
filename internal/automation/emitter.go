// internal/automation/emitter.go
package automation

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventSink receives the automation event stream. Emission after the consumer
// has gone away must be a silent no-op; a run never fails because nobody is
// watching anymore.
type EventSink interface {
	Emit(eventType schemas.EventType, payload any)
	Close()
}

// SSEEmitter writes server-sent events to an HTTP response. It is
// single-producer, single-consumer; Close is idempotent and a closed or
// disconnected emitter swallows all further writes.
type SSEEmitter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	logger  *zap.Logger
	closed  bool
}

// NewSSEEmitter wraps a streaming response writer. The writer should support
// http.Flusher so events reach the client as they happen; without it events
// are still written but arrive on the server's own schedule.
func NewSSEEmitter(w io.Writer, logger *zap.Logger) *SSEEmitter {
	flusher, _ := w.(http.Flusher)
	return &SSEEmitter{
		w:       w,
		flusher: flusher,
		logger:  logger.Named("automation.sse"),
	}
}

// Emit writes one event: "event: <type>\ndata: <json>\n\n". A write error
// means the consumer disconnected; the emitter closes itself and drops
// everything after that.
func (e *SSEEmitter) Emit(eventType schemas.EventType, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("Failed to encode event payload", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		e.logger.Debug("Event consumer disconnected", zap.Error(err))
		e.closed = true
		return
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

// Close marks the emitter closed. Safe to call any number of times.
func (e *SSEEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// channelSink buffers events on a channel for consumers that attach to a run
// after it started. Sends never block: when the buffer is full the event is
// dropped, mirroring the disconnected-consumer policy of the SSE emitter.
type channelSink struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

// Event is one record on a run's event stream.
type Event struct {
	Type    schemas.EventType
	Payload any
}

func newChannelSink(buffer int) *channelSink {
	return &channelSink{events: make(chan Event, buffer)}
}

func (s *channelSink) Emit(eventType schemas.EventType, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- Event{Type: eventType, Payload: payload}:
	default:
	}
}

func (s *channelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Events exposes the stream for a consumer. The channel closes when the run
// finishes.
func (s *channelSink) Events() <-chan Event {
	return s.events
}
