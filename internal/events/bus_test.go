package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/734ai/neuroforge/internal/types"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ctx := context.Background()

	ch, cleanup := bus.Subscribe(ctx, Filter{}, 10)
	defer cleanup()

	event := NewEvent(EventTaskSubmitted)
	event.TaskID = types.NewID()
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case got := <-ch:
		assert.Equal(t, EventTaskSubmitted, got.Type)
		assert.Equal(t, event.TaskID, got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFilterByTypeAndTask(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ctx := context.Background()

	wantTask := types.NewID()
	ch, cleanup := bus.Subscribe(ctx, Filter{
		Types:  []EventType{EventTaskCompleted},
		TaskID: wantTask,
	}, 10)
	defer cleanup()

	other := NewEvent(EventTaskCompleted)
	other.TaskID = types.NewID()
	require.NoError(t, bus.Publish(ctx, other))

	wrongType := NewEvent(EventTaskStarted)
	wrongType.TaskID = wantTask
	require.NoError(t, bus.Publish(ctx, wrongType))

	match := NewEvent(EventTaskCompleted)
	match.TaskID = wantTask
	require.NoError(t, bus.Publish(ctx, match))

	select {
	case got := <-ch:
		assert.Equal(t, wantTask, got.TaskID)
		assert.Equal(t, EventTaskCompleted, got.Type)
	case <-time.After(time.Second):
		t.Fatal("matching event not delivered")
	}
	assert.Empty(t, ch, "non-matching events must not be delivered")
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	var droppedFor string
	bus := NewEventBus(WithDropHandler(func(_ Event, id string) {
		droppedFor = id
	}))
	defer bus.Close()
	ctx := context.Background()

	ch, cleanup := bus.Subscribe(ctx, Filter{}, 1)
	defer cleanup()

	require.NoError(t, bus.Publish(ctx, NewEvent(EventMemoryStored)))
	require.NoError(t, bus.Publish(ctx, NewEvent(EventMemoryStored)))

	assert.NotEmpty(t, droppedFor, "second event should have been dropped")
	assert.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 1)
	require.Equal(t, 1, bus.SubscriberCount())

	cleanup()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := NewEventBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), NewEvent(EventTaskStarted))
	assert.Error(t, err)
}

func TestFilterMatches(t *testing.T) {
	session := types.NewID()
	event := NewEvent(EventSnapshotCaptured)
	event.SessionID = session

	assert.True(t, Filter{}.Matches(event))
	assert.True(t, Filter{SessionID: session}.Matches(event))
	assert.False(t, Filter{SessionID: types.NewID()}.Matches(event))
	assert.True(t, Filter{Types: []EventType{EventSnapshotCaptured}}.Matches(event))
	assert.False(t, Filter{Types: []EventType{EventTaskFailed}}.Matches(event))
}
