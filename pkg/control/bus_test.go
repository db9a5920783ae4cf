package control_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/control"
)

func TestBusSubscribePublishUnsubscribe(t *testing.T) {
	bus := control.NewBus()
	ch, id := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Publish(control.Event{Cmd: control.StartFrontCamera, CameraID: 1})

	select {
	case ev := <-ch:
		assert.Equal(t, control.StartFrontCamera, ev.Cmd)
		assert.Equal(t, 1, ev.CameraID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	bus.Unsubscribe(id)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := control.NewBus()
	_, _ = bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(control.Event{Cmd: control.SwitchCamera})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "start_front_camera", control.StartFrontCamera.String())
	assert.Equal(t, "switch_camera", control.SwitchCamera.String())
}
