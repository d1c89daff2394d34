package gxgbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDispatch(t *testing.T) {
	bus := NewEventBus(nil)
	received := make(chan any, 1)
	bus.Subscribe(
		EventLevelUp, func(_ context.Context, payload any) {
			received <- payload
		},
	)

	event := &LevelUpEvent{UserID: "user-1", NewLevel: 3}
	bus.Emit(context.Background(), EventLevelUp, event)

	select {
	case payload := <-received:
		assert.Equal(t, event, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusMultipleHandlers(t *testing.T) {
	bus := NewEventBus(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	for n := 0; n < 2; n++ {
		bus.Subscribe(
			EventErrorLogged, func(_ context.Context, _ any) {
				wg.Done()
			},
		)
	}

	bus.Emit(context.Background(), EventErrorLogged, &ErrorLoggedEvent{})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}

func TestEventBusNoHandlers(t *testing.T) {
	bus := NewEventBus(nil)
	// must not panic or block
	bus.Emit(context.Background(), EventLevelUp, &LevelUpEvent{})
}

func TestEventBusRecoversPanics(t *testing.T) {
	bus := NewEventBus(nil)
	received := make(chan struct{}, 1)
	bus.Subscribe(
		EventLevelUp, func(_ context.Context, _ any) {
			panic("handler exploded")
		},
	)
	bus.Subscribe(
		EventLevelUp, func(_ context.Context, _ any) {
			received <- struct{}{}
		},
	)

	bus.Emit(context.Background(), EventLevelUp, &LevelUpEvent{})

	select {
	case <-received:
	//
	case <-time.After(5 * time.Second):
		t.Fatal("panicking handler prevented dispatch")
	}
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "level_up", EventLevelUp.String())
	require.Equal(t, "error_logged", EventErrorLogged.String())
	require.Equal(t, "unknown", EventKind(99).String())
}
