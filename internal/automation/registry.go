// internal/automation/registry.go
package automation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventBuffer bounds how many events a run holds for a consumer that has not
// attached yet.
const eventBuffer = 512

// defaultRunRetention is how long a finished run stays in the registry so a
// late consumer can still attach and drain its buffered events.
const defaultRunRetention = 10 * time.Minute

// RunHandle is a live or finished run: its event stream plus completion
// state.
type RunHandle struct {
	ID   string
	sink *channelSink
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Events returns the run's event stream. The channel closes when the run
// finishes.
func (h *RunHandle) Events() <-chan Event {
	return h.sink.Events()
}

// Done closes when the run has finished.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the run's terminal error, if any. Valid after Done closes.
func (h *RunHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Registry starts and tracks automation runs. Runs are independent: each has
// its own browser process and event stream, and they share no mutable state
// beyond this index.
type Registry struct {
	engine    *Engine
	logger    *zap.Logger
	retention time.Duration

	mu   sync.Mutex
	runs map[string]*RunHandle
}

// NewRegistry creates a registry over an engine.
func NewRegistry(engine *Engine, logger *zap.Logger) *Registry {
	return &Registry{
		engine:    engine,
		logger:    logger.Named("automation.registry"),
		retention: defaultRunRetention,
		runs:      make(map[string]*RunHandle),
	}
}

// Start launches a run in the background and returns its handle. The run
// outlives the HTTP request that started it; it is bounded by the engine's
// global timeout, not by the caller's context.
func (r *Registry) Start(req RunRequest) *RunHandle {
	id := uuid.NewString()
	req.RunID = id

	handle := &RunHandle{
		ID:   id,
		sink: newChannelSink(eventBuffer),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[id] = handle
	r.mu.Unlock()

	go func() {
		err := r.engine.Run(context.Background(), req, handle.sink)
		handle.mu.Lock()
		handle.err = err
		handle.mu.Unlock()
		close(handle.done)
		// Keep the finished run around for late consumers, then drop it so
		// handles do not accumulate for the life of the process.
		time.AfterFunc(r.retention, func() { r.evict(id) })
	}()

	r.logger.Info("Run started", zap.String("run_id", id), zap.String("form_code", req.FormCode))
	return handle
}

// Get returns the handle for a run ID.
func (r *Registry) Get(id string) (*RunHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.runs[id]
	return handle, ok
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
	r.logger.Debug("Run evicted", zap.String("run_id", id))
}
