package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/config"
)

func TestEventSubject(t *testing.T) {
	taskEvent := build.TaskEvent("t1", build.StatusEnqueued, build.StatusBuilding)
	assert.Equal(t, "buildcoord.status.task.BUILDING", eventSubject("buildcoord.status", taskEvent))

	groupEvent := build.GroupEvent("g1", build.GroupRunning, build.GroupDoneWithErrors)
	assert.Equal(t, "buildcoord.status.group.DONE_WITH_ERRORS", eventSubject("buildcoord.status", groupEvent))
}

func TestEventMsgIDStableAcrossReplay(t *testing.T) {
	first := build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess)
	replay := build.TaskEvent("t1", build.StatusBuilding, build.StatusSuccess)

	// Timestamps differ but the dedupe id must not.
	assert.Equal(t, eventMsgID(first), eventMsgID(replay))

	other := build.TaskEvent("t2", build.StatusBuilding, build.StatusSuccess)
	assert.NotEqual(t, eventMsgID(first), eventMsgID(other))
}

func TestNewNATSPublisherDisabled(t *testing.T) {
	_, err := NewNATSPublisher(nil)
	require.Error(t, err)

	_, err = NewNATSPublisher(&config.NotifyConfig{Enabled: false})
	require.Error(t, err)
}
