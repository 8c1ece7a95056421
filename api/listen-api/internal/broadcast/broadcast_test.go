package internal_broadcast

import (
	"testing"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	e := NewEmitter(commons.NewNopLogger())
	ch, cancel := e.Subscribe()
	defer cancel()

	e.Publish(StateEvent{State: internal_type.ListenState{IsListening: true}})

	ev := <-ch
	state, ok := ev.(StateEvent)
	require.True(t, ok)
	assert.True(t, state.State.IsListening)
	assert.Equal(t, "continuous-listen-state", ev.EventName())
}

func TestPublishDoesNotBlockOnLaggingSubscriber(t *testing.T) {
	e := NewEmitter(commons.NewNopLogger())
	_, cancel := e.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; Publish must return regardless.
	for i := 0; i < subscriberBuffer*2; i++ {
		e.Publish(WaveformEvent{Source: internal_type.SourceSystem, Data: "00"})
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	e := NewEmitter(commons.NewNopLogger())
	ch, cancel := e.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	e := NewEmitter(commons.NewNopLogger())
	ch, _ := e.Subscribe()

	e.Close()
	_, open := <-ch
	assert.False(t, open)

	// Publish and Subscribe after Close are safe no-ops.
	e.Publish(ErrorEvent{Err: internal_type.ListenError{Type: internal_type.ErrorUnknown, Message: "x"}})
	late, _ := e.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
