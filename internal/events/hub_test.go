package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(TypeDispatched, map[string]int{"slot": 3})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, TypeDispatched, ev.Type)
		assert.JSONEq(t, `{"slot":3}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestEventJSONEmbedsPayload(t *testing.T) {
	h := NewHub(1)
	h.Publish(TypeFailed, map[string]uint32{"code": 4294967295})
	h.Publish(TypeCompleted, nil)

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 1)
	b, err := json.Marshal(snap[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":{}`)
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for range 5 {
		h.Publish(TypeCompleted, nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	newer := h.SnapshotSince(4)
	require.Len(t, newer, 1)
	assert.Equal(t, int64(5), newer[0].ID)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for range 200 {
			h.Publish(TypeAccepted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, int64(200-128), h.Dropped())

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
}
