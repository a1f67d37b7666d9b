package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastDoesNotBlockWithNoClients(t *testing.T) {
	h := NewHub()
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	done := make(chan struct{})
	go func() {
		h.Broadcast(Snapshot{RunID: "r1", T: 1.0, Field: "h", R: 2, C: 2, Values: []float64{0, 0, 0, 0}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with no registered clients")
	}
}

func TestRunStopsWhenChannelClosed(t *testing.T) {
	h := NewHub()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		h.Run(stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stop was closed")
	}
}

func TestSnapshotRoundTripsRunID(t *testing.T) {
	snap := Snapshot{RunID: "abc", T: 3.5, Field: "v", R: 3, C: 4, Values: make([]float64, 12)}
	assert.Equal(t, "abc", snap.RunID)
	assert.Len(t, snap.Values, 12)
}
