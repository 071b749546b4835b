package hub

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildcoord/internal/build"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	h := New()
	var got1, got2 []build.StatusEvent
	h.Subscribe("t1", func(ev build.StatusEvent) { got1 = append(got1, ev) })
	h.Subscribe("t1", func(ev build.StatusEvent) { got2 = append(got2, ev) })

	h.Publish(build.TaskEvent("t1", build.StatusEnqueued, build.StatusBuilding))

	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	assert.Equal(t, "BUILDING", got1[0].NewStatus)
}

func TestPublishUnknownTargetIsNoop(t *testing.T) {
	h := New()
	// no subscribers anywhere; must not panic or error
	h.Publish(build.TaskEvent("ghost", build.StatusBuilding, build.StatusSuccess))
	assert.Equal(t, 0, h.TotalSubscribers())
}

func TestTerminalCleanup(t *testing.T) {
	h := New()
	var delivered atomic.Int32
	h.Subscribe("t1", func(build.StatusEvent) { delivered.Add(1) })
	h.Subscribe("t1", func(build.StatusEvent) { delivered.Add(1) })

	h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess))
	assert.Equal(t, int32(2), delivered.Load())
	assert.Equal(t, 0, h.SubscriberCount("t1"))

	// subsequent publish delivers to zero subscribers
	h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess))
	assert.Equal(t, int32(2), delivered.Load())
}

func TestResubscribeAfterTerminal(t *testing.T) {
	h := New()
	h.Subscribe("t1", func(build.StatusEvent) {})
	h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusFailed))
	require.Equal(t, 0, h.SubscriberCount("t1"))

	var n int
	h.Subscribe("t1", func(build.StatusEvent) { n++ })
	h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusFailed))
	assert.Equal(t, 1, n)
}

func TestNonTerminalKeepsSubscribers(t *testing.T) {
	h := New()
	var n int
	h.Subscribe("t1", func(build.StatusEvent) { n++ })

	h.Publish(build.TaskEvent("t1", build.StatusNew, build.StatusEnqueued))
	h.Publish(build.TaskEvent("t1", build.StatusEnqueued, build.StatusBuilding))

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, h.SubscriberCount("t1"))
}

func TestCancelRemovesOnlyOneSubscription(t *testing.T) {
	h := New()
	var a, b int
	sub := h.Subscribe("t1", func(build.StatusEvent) { a++ })
	h.Subscribe("t1", func(build.StatusEvent) { b++ })

	sub.Cancel()
	h.Publish(build.TaskEvent("t1", build.StatusNew, build.StatusEnqueued))

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	// double cancel is a no-op
	sub.Cancel()
	assert.Equal(t, 1, h.SubscriberCount("t1"))
}

func TestSubscriptionsAreIndependentPerTarget(t *testing.T) {
	h := New()
	var t1, t2 int
	h.Subscribe("t1", func(build.StatusEvent) { t1++ })
	h.Subscribe("t2", func(build.StatusEvent) { t2++ })

	h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess))

	assert.Equal(t, 1, t1)
	assert.Equal(t, 0, t2)
	assert.Equal(t, 1, h.SubscriberCount("t2"))
}

func TestCallbackMayReenterHub(t *testing.T) {
	h := New()
	var groupEvents int
	h.Subscribe("g1", func(build.StatusEvent) { groupEvents++ })

	// A task subscriber that publishes a group event, the way the group
	// coordinator reacts to member completion.
	h.Subscribe("t1", func(ev build.StatusEvent) {
		h.Publish(build.GroupEvent("g1", build.GroupRunning, build.GroupDone))
	})

	h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess))
	assert.Equal(t, 1, groupEvents)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h := New()
	var delivered atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			targetID := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				sub := h.Subscribe(targetID, func(build.StatusEvent) { delivered.Add(1) })
				h.Publish(build.TaskEvent(targetID, build.StatusNew, build.StatusEnqueued))
				sub.Cancel()
			}
		}(i)
	}
	wg.Wait()

	// Every goroutine publishes only to its own target while exactly one
	// subscription is registered there.
	assert.Equal(t, int64(800), delivered.Load())
	assert.Equal(t, 0, h.TotalSubscribers())
}

func TestTerminalPublishRemovesConcurrently(t *testing.T) {
	h := New()
	var delivered atomic.Int64
	for i := 0; i < 4; i++ {
		h.Subscribe("t1", func(build.StatusEvent) { delivered.Add(1) })
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish(build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess))
		}()
	}
	wg.Wait()

	// The first terminal publish to win the shard lock removes the set; later
	// publishes see an empty registry. Exactly one snapshot is delivered.
	assert.Equal(t, int64(4), delivered.Load())
	assert.Equal(t, 0, h.SubscriberCount("t1"))
}
