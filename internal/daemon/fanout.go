package daemon

import (
	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/group"
	"git.home.luguber.info/inful/buildcoord/internal/hub"
	"git.home.luguber.info/inful/buildcoord/internal/metrics"
)

// fanoutPublisher delivers each status event to every sink in order. The hub
// comes first so in-process subscribers observe a transition before external
// mirrors do.
type fanoutPublisher struct {
	sinks []group.Publisher
}

func newFanoutPublisher(sinks ...group.Publisher) *fanoutPublisher {
	var present []group.Publisher
	for _, s := range sinks {
		if s != nil {
			present = append(present, s)
		}
	}
	return &fanoutPublisher{sinks: present}
}

func (f *fanoutPublisher) Publish(event build.StatusEvent) {
	for _, s := range f.sinks {
		s.Publish(event)
	}
}

// gaugedHub keeps the subscriber gauge current as terminal events detach
// subscriptions.
type gaugedHub struct {
	h   *hub.Hub
	rec metrics.Recorder
}

func (g gaugedHub) Publish(event build.StatusEvent) {
	g.h.Publish(event)
	g.rec.SetHubSubscribers(g.h.TotalSubscribers())
}
