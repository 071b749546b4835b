package eventstore

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/logfields"
)

const appendTimeout = 5 * time.Second

// Journal persists status events as they are published and feeds an optional
// projection. A journal failure is logged, never propagated: the status flow
// must not stall because history could not be written.
type Journal struct {
	store      Store
	projection *GroupHistoryProjection
}

// NewJournal wires a journal sink. projection may be nil.
func NewJournal(store Store, projection *GroupHistoryProjection) *Journal {
	return &Journal{store: store, projection: projection}
}

// Publish appends the status event to the journal.
func (j *Journal) Publish(event build.StatusEvent) {
	typed, err := toJournalEvent(event)
	if err != nil {
		slog.Error("Failed to build journal event",
			logfields.Status(event.NewStatus), logfields.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := j.store.Append(ctx, typed.TargetID(), typed.Type(), typed.Payload(), typed.Metadata()); err != nil {
		slog.Error("Failed to journal status event",
			logfields.Status(event.NewStatus), logfields.Error(err))
		return
	}
	if j.projection != nil {
		j.projection.Apply(typed)
	}
}

func toJournalEvent(event build.StatusEvent) (Event, error) {
	if event.Kind == build.KindGroup {
		return NewGroupStatusChanged(event.TargetID, event.OldStatus, event.NewStatus, event.Terminal)
	}
	return NewTaskStatusChanged(event.TargetID, event.OldStatus, event.NewStatus, event.Terminal)
}
