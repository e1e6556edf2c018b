package automation

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ezmig/formpilot/api/schemas"
)

func TestSSEEmitter_Framing(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewSSEEmitter(&buf, zaptest.NewLogger(t))

	emitter.Emit(schemas.EventStep, schemas.StepEvent{
		Step:   schemas.StepLogin,
		Status: schemas.StatusInProgress,
	})

	out := buf.String()
	assert.Contains(t, out, "event: step\n")
	assert.Contains(t, out, `data: {"step":"login","status":"in_progress"}`)
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n\n")), "records are blank-line terminated")
}

type failingWriter struct {
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestSSEEmitter_DisconnectedConsumerIsSilent(t *testing.T) {
	w := &failingWriter{}
	emitter := NewSSEEmitter(w, zaptest.NewLogger(t))

	emitter.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepPrepare})
	emitter.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepLaunchBrowser})
	emitter.Emit(schemas.EventComplete, schemas.CompleteEvent{})

	// The first write discovers the disconnect; everything after is dropped
	// without touching the writer.
	assert.Equal(t, 1, w.writes)
}

func TestSSEEmitter_CloseIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewSSEEmitter(&buf, zaptest.NewLogger(t))

	emitter.Close()
	emitter.Close()
	emitter.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepPrepare})

	assert.Zero(t, buf.Len(), "emission after close must be a no-op")
}

func TestChannelSink_DeliversInOrder(t *testing.T) {
	sink := newChannelSink(8)

	sink.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepPrepare})
	sink.Emit(schemas.EventComplete, schemas.CompleteEvent{FieldsFilled: 3})
	sink.Close()

	var events []Event
	for e := range sink.Events() {
		events = append(events, e)
	}
	require.Len(t, events, 2)
	assert.Equal(t, schemas.EventStep, events[0].Type)
	assert.Equal(t, schemas.EventComplete, events[1].Type)
}

func TestChannelSink_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	sink := newChannelSink(1)

	sink.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepPrepare})
	// Buffer is full; this must return immediately rather than block.
	sink.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepLaunchBrowser})
	sink.Close()

	var count int
	for range sink.Events() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestChannelSink_EmitAfterClose(t *testing.T) {
	sink := newChannelSink(4)
	sink.Close()
	sink.Close()

	assert.NotPanics(t, func() {
		sink.Emit(schemas.EventStep, schemas.StepEvent{Step: schemas.StepPrepare})
	})
}
