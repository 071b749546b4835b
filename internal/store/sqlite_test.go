package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildcoord/internal/build"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfigurationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	cfg := &build.Configuration{ID: "cfg-a", Revision: "3", Dependencies: []string{"cfg-b", "cfg-c"}}
	require.NoError(t, s.SaveBuildConfiguration(ctx, cfg))

	got, err := s.GetBuildConfiguration(ctx, "cfg-a")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	// upsert updates revision
	cfg.Revision = "4"
	require.NoError(t, s.SaveBuildConfiguration(ctx, cfg))
	got, err = s.GetBuildConfiguration(ctx, "cfg-a")
	require.NoError(t, err)
	assert.Equal(t, "4", got.Revision)

	_, err = s.GetBuildConfiguration(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestSuccessfulBuildRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	records := []*build.Record{
		{ID: "b#1", ConfigID: "cfg-b", Status: build.StatusSuccess, CompletedAt: base},
		{ID: "b#2", ConfigID: "cfg-b", Status: build.StatusFailed, CompletedAt: base.Add(10 * time.Minute)},
		{ID: "b#3", ConfigID: "cfg-b", Status: build.StatusSuccess, CompletedAt: base.Add(20 * time.Minute), DependencyInputs: []string{"c#7"}},
	}
	for _, r := range records {
		require.NoError(t, s.SaveBuildRecord(ctx, r))
	}

	latest, err := s.GetLatestSuccessfulBuildRecord(ctx, "cfg-b")
	require.NoError(t, err)
	assert.Equal(t, "b#3", latest.ID)
	assert.Equal(t, []string{"c#7"}, latest.DependencyInputs)

	// failed builds never count
	_, err = s.GetLatestSuccessfulBuildRecord(ctx, "cfg-never-built")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupRoundTripAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	g := &build.Group{
		ID:            "g1",
		ConfigSetID:   "set-1",
		MemberTaskIDs: []string{"t1", "t2"},
		Status:        build.GroupPending,
		CreatedAt:     time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.SaveGroup(ctx, g))

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, g.MemberTaskIDs, got.MemberTaskIDs)
	assert.Equal(t, build.GroupPending, got.Status)

	require.NoError(t, s.SaveGroupStatus(ctx, "g1", build.GroupRunning))
	got, err = s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, build.GroupRunning, got.Status)

	assert.ErrorIs(t, s.SaveGroupStatus(ctx, "missing", build.GroupDone), ErrNotFound)
}

func TestListNonTerminalGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	now := time.Now()
	groups := []*build.Group{
		{ID: "g1", ConfigSetID: "s", Status: build.GroupPending, CreatedAt: now},
		{ID: "g2", ConfigSetID: "s", Status: build.GroupRunning, CreatedAt: now.Add(time.Second)},
		{ID: "g3", ConfigSetID: "s", Status: build.GroupDone, CreatedAt: now.Add(2 * time.Second)},
		{ID: "g4", ConfigSetID: "s", Status: build.GroupDoneWithErrors, CreatedAt: now.Add(3 * time.Second)},
	}
	for _, g := range groups {
		require.NoError(t, s.SaveGroup(ctx, g))
	}

	open, err := s.ListNonTerminalGroups(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "g1", open[0].ID)
	assert.Equal(t, "g2", open[1].ID)
}

func TestTaskRoundTripAndStatusStamp(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	task := &build.Task{
		ID:             "t1",
		ConfigID:       "cfg-a",
		ConfigRevision: "3",
		Status:         build.StatusNew,
		GroupID:        "g1",
		DependsOn:      []string{"t0"},
		CorrelationID:  "corr-1",
	}
	require.NoError(t, s.SaveTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, build.StatusNew, got.Status)
	assert.Equal(t, []string{"t0"}, got.DependsOn)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.SaveTaskStatus(ctx, "t1", build.StatusEnqueued))
	got, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, build.StatusEnqueued, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.SaveTaskStatus(ctx, "t1", build.StatusSuccess))
	got, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	firstCompleted := *got.CompletedAt

	// completed_at is set once and never mutated afterward
	require.NoError(t, s.SaveTaskStatus(ctx, "t1", build.StatusSuccess))
	got, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, firstCompleted, *got.CompletedAt)

	assert.ErrorIs(t, s.SaveTaskStatus(ctx, "missing", build.StatusFailed), ErrNotFound)
}

func TestGetTaskByCorrelationID(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveTask(ctx, &build.Task{
		ID: "t1", ConfigID: "cfg", ConfigRevision: "1", Status: build.StatusEnqueued, CorrelationID: "corr-1",
	}))

	got, err := s.GetTaskByCorrelationID(ctx, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = s.GetTaskByCorrelationID(ctx, "corr-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListGroupTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, id := range []string{"t2", "t1", "t3"} {
		require.NoError(t, s.SaveTask(ctx, &build.Task{
			ID: id, ConfigID: "cfg", ConfigRevision: "1", Status: build.StatusNew, GroupID: "g1",
		}))
	}
	require.NoError(t, s.SaveTask(ctx, &build.Task{
		ID: "other", ConfigID: "cfg", ConfigRevision: "1", Status: build.StatusNew, GroupID: "g2",
	}))

	tasks, err := s.ListGroupTasks(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "t3", tasks[2].ID)
}
