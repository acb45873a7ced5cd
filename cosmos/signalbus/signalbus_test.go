package signalbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/signalbus"
)

func TestBus_SubscribeReceivesPublishedEvent(t *testing.T) {
	b := signalbus.New()
	ch := b.Subscribe(signalbus.TaskStatusChanged)

	b.Publish(signalbus.Event{Type: signalbus.TaskStatusChanged, EntityID: "t1", NewStatus: "successful"})

	select {
	case ev := <-ch:
		assert.Equal(t, "t1", ev.EntityID)
		assert.Equal(t, "successful", ev.NewStatus)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_DifferentEventTypesAreIsolated(t *testing.T) {
	b := signalbus.New()
	taskCh := b.Subscribe(signalbus.TaskStatusChanged)
	stageCh := b.Subscribe(signalbus.StageStatusChanged)

	b.Publish(signalbus.Event{Type: signalbus.StageStatusChanged, EntityID: "s1"})

	select {
	case <-taskCh:
		t.Fatal("task channel should not have received a stage event")
	default:
	}

	select {
	case ev := <-stageCh:
		assert.Equal(t, "s1", ev.EntityID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PublishNeverBlocksWhenSubscriberBufferIsFull(t *testing.T) {
	b := signalbus.New()
	ch := b.Subscribe(signalbus.TaskStatusChanged)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(signalbus.Event{Type: signalbus.TaskStatusChanged, EntityID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full, undrained subscriber")
	}
	require.NotNil(t, ch)
}

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	b := signalbus.New()
	ch := b.Subscribe(signalbus.ExecutionStatusChanged)
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
}
