// Package eventstore journals every task and group status transition and
// provides read models reconstructed from the journal.
package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildcoord/internal/util/sets"
)

const (
	groupStatusRunning = "RUNNING"
	groupStatusPending = "PENDING"
)

// GroupSummary is a read model summarizing one build group's lifecycle.
type GroupSummary struct {
	GroupID     string        `json:"group_id"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Transitions int           `json:"transitions"`
}

// GroupHistoryProjection maintains an in-memory view of group history,
// reconstructed from events stored in the journal.
type GroupHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	groups   map[string]*GroupSummary // groupID -> summary
	history  []*GroupSummary          // ordered by start time, newest first
	maxSize  int
	lastSync time.Time
}

// NewGroupHistoryProjection creates a new projection backed by the given store.
func NewGroupHistoryProjection(store Store, maxHistorySize int) *GroupHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &GroupHistoryProjection{
		store:   store,
		groups:  make(map[string]*GroupSummary),
		history: make([]*GroupSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the journal.
// This is typically called at startup.
func (p *GroupHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.groups = make(map[string]*GroupSummary)
	p.history = make([]*GroupSummary, 0, p.maxSize)

	for _, event := range events {
		p.applyEventLocked(event)
	}

	p.sortHistoryLocked()
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneGroupsLocked()

	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
// This is used for real-time updates as events are journaled.
func (p *GroupHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *GroupHistoryProjection) applyEventLocked(event Event) {
	if event.Type() != "GroupStatusChanged" {
		return
	}
	groupID := event.TargetID()
	if groupID == "" {
		return
	}

	summary, exists := p.groups[groupID]
	if !exists {
		summary = &GroupSummary{
			GroupID:   groupID,
			Status:    groupStatusPending,
			StartedAt: event.Timestamp(),
		}
		p.groups[groupID] = summary
	}
	summary.Transitions++

	var payload struct {
		NewStatus string `json:"new_status"`
		Terminal  bool   `json:"terminal"`
	}
	if err := json.Unmarshal(event.Payload(), &payload); err != nil {
		return
	}
	summary.Status = payload.NewStatus
	if payload.Terminal {
		completed := event.Timestamp()
		summary.CompletedAt = &completed
		summary.Duration = completed.Sub(summary.StartedAt)
		p.addToHistoryLocked(summary)
	}
}

// addToHistoryLocked adds a finished group to history if not already present.
func (p *GroupHistoryProjection) addToHistoryLocked(summary *GroupSummary) {
	for _, h := range p.history {
		if h.GroupID == summary.GroupID {
			return
		}
	}

	p.history = append([]*GroupSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneGroupsLocked()
}

// pruneGroupsLocked removes finished groups not present in the bounded
// history. Groups still in flight are kept. Caller must hold p.mu.
func (p *GroupHistoryProjection) pruneGroupsLocked() {
	keep := sets.New[string]()
	for _, h := range p.history {
		if h != nil {
			keep.Add(h.GroupID)
		}
	}

	for id, summary := range p.groups {
		if summary != nil && summary.CompletedAt == nil {
			continue
		}
		if !keep.Has(id) {
			delete(p.groups, id)
		}
	}
}

// sortHistoryLocked sorts history by start time, newest first.
func (p *GroupHistoryProjection) sortHistoryLocked() {
	// Simple insertion sort (history is usually small)
	for i := 1; i < len(p.history); i++ {
		for j := i; j > 0 && p.history[j].StartedAt.After(p.history[j-1].StartedAt); j-- {
			p.history[j], p.history[j-1] = p.history[j-1], p.history[j]
		}
	}
}

// GetHistory returns finished groups, newest first.
func (p *GroupHistoryProjection) GetHistory() []*GroupSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*GroupSummary, len(p.history))
	copy(result, p.history)
	return result
}

// GetGroup returns the summary for a specific group.
func (p *GroupHistoryProjection) GetGroup(groupID string) (*GroupSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.groups[groupID]
	if !exists {
		return nil, false
	}
	cp := *summary
	return &cp, true
}

// GetActiveGroups returns all groups still in flight.
func (p *GroupHistoryProjection) GetActiveGroups() []*GroupSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var active []*GroupSummary
	for _, summary := range p.groups {
		if summary.CompletedAt == nil {
			cp := *summary
			active = append(active, &cp)
		}
	}
	return active
}

// LastSyncTime returns when the projection was last synchronized.
func (p *GroupHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
