// Package hub implements the in-memory status notification registry. It maps
// a build task or group identifier to its current subscribers, delivers
// status-changed events, and drops all subscribers for a target the moment a
// terminal event is published for it.
package hub

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/buildcoord/internal/build"
)

// Callback receives status events for a subscribed target. Callbacks run on
// the publisher's goroutine after the registry mutation is complete, so a
// callback may safely call back into the hub.
type Callback func(build.StatusEvent)

const shardCount = 64

type shard struct {
	mu   sync.Mutex
	subs map[string]map[uint64]Callback // targetID -> subscription id -> callback
}

// Hub is the single source of truth for "is anyone still watching this
// target". Operations on different targets only contend at shard granularity.
type Hub struct {
	shards [shardCount]shard
	nextID atomic.Uint64
}

// New creates an empty hub.
func New() *Hub {
	h := &Hub{}
	for i := range h.shards {
		h.shards[i].subs = make(map[string]map[uint64]Callback)
	}
	return h
}

func (h *Hub) shardFor(targetID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(targetID))
	return &h.shards[f.Sum32()%shardCount]
}

// Subscription identifies one registered callback so it can be cancelled.
type Subscription struct {
	hub      *Hub
	targetID string
	id       uint64
}

// Subscribe registers a callback for a target. Multiple subscriptions per
// target are allowed.
func (h *Hub) Subscribe(targetID string, fn Callback) Subscription {
	id := h.nextID.Add(1)
	sh := h.shardFor(targetID)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	m, ok := sh.subs[targetID]
	if !ok {
		m = make(map[uint64]Callback)
		sh.subs[targetID] = m
	}
	m[id] = fn
	return Subscription{hub: h, targetID: targetID, id: id}
}

// Cancel removes the subscription. Cancelling twice, or after terminal
// cleanup already removed it, is a no-op.
func (s Subscription) Cancel() {
	if s.hub == nil {
		return
	}
	sh := s.hub.shardFor(s.targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if m, ok := sh.subs[s.targetID]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(sh.subs, s.targetID)
		}
	}
}

// Publish delivers the event to every currently registered subscriber of its
// target. When the event is terminal, all subscribers for the target are
// removed atomically with the delivery snapshot: any Publish that starts
// after this one returns sees zero subscribers. Publishing to a target
// without subscribers is a no-op, not an error.
func (h *Hub) Publish(event build.StatusEvent) {
	sh := h.shardFor(event.TargetID)

	sh.mu.Lock()
	m := sh.subs[event.TargetID]
	var snapshot []Callback
	if len(m) > 0 {
		snapshot = make([]Callback, 0, len(m))
		for _, fn := range m {
			snapshot = append(snapshot, fn)
		}
	}
	if event.Terminal && m != nil {
		delete(sh.subs, event.TargetID)
	}
	sh.mu.Unlock()

	for _, fn := range snapshot {
		fn(event)
	}
}

// SubscriberCount returns the number of registered subscribers for a target.
func (h *Hub) SubscriberCount(targetID string) int {
	sh := h.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.subs[targetID])
}

// TotalSubscribers returns the number of registered subscriptions across all
// targets, for the metrics gauge.
func (h *Hub) TotalSubscribers() int {
	total := 0
	for i := range h.shards {
		sh := &h.shards[i]
		sh.mu.Lock()
		for _, m := range sh.subs {
			total += len(m)
		}
		sh.mu.Unlock()
	}
	return total
}
