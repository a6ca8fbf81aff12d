package competition

import (
	"context"
	"testing"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskResolver struct{ tasks []*core.Task }

func (f *fakeTaskResolver) MustResolveAll(ids []string) ([]*core.Task, error) {
	return f.tasks, nil
}

func newTestManager(t *testing.T, maxConcurrent int, store *fakeStore, snaps *fakeSnapshotStore, disp *fakeDispatcher) *Manager {
	t.Helper()
	return NewManager(maxConcurrent, store, snaps, &fakeTaskResolver{tasks: []*core.Task{quickTask()}}, disp, &fakeRater{}, &fakeMarketResolver{}, fakePortfolios{}, &fakeEmitter{})
}

func TestManager_Start_HappyPath(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionLobby,
		&core.Agent{ID: "agent1", Kind: core.AgentKindWebhook},
		&core.Agent{ID: "agent2", Kind: core.AgentKindWebhook},
	)
	m := newTestManager(t, 10, store, &fakeSnapshotStore{}, &fakeDispatcher{})

	err := m.Start(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.Equal(t, core.CompetitionRunning, store.status("c1"))

	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, core.CompetitionCompleted, store.status("c1"))
}

func TestManager_Start_RejectsAtCapacity(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionLobby, &core.Agent{ID: "agent1"}, &core.Agent{ID: "agent2"})
	m := newTestManager(t, 0, store, &fakeSnapshotStore{}, &fakeDispatcher{})

	err := m.Start(context.Background(), "c1", "")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindCapacity))
}

func TestManager_Start_RejectsNonLobbyStatus(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionRunning, &core.Agent{ID: "agent1"}, &core.Agent{ID: "agent2"})
	m := newTestManager(t, 10, store, &fakeSnapshotStore{}, &fakeDispatcher{})

	err := m.Start(context.Background(), "c1", "")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindState))
}

func TestManager_Start_RejectsDuplicateActive(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionLobby, &core.Agent{ID: "agent1"}, &core.Agent{ID: "agent2"})
	blockCh := make(chan struct{})
	m := newTestManager(t, 10, store, &fakeSnapshotStore{}, &fakeDispatcher{})
	m.dispatcher = &blockingDispatcher{block: blockCh}
	defer close(blockCh)

	require.NoError(t, m.Start(context.Background(), "c1", ""))

	err := m.Start(context.Background(), "c1", "")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindDuplicate))
}

func TestManager_Cancel_NotActiveReturnsNotFound(t *testing.T) {
	m := newTestManager(t, 10, newFakeStore("c1", core.CompetitionLobby), &fakeSnapshotStore{}, &fakeDispatcher{})
	err := m.Cancel("does-not-exist")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestManager_RecoverAtStartup_CancelsAndDeletesAbandonedSnapshots(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionRunning, &core.Agent{ID: "agent1"})
	snaps := &fakeSnapshotStore{saved: []*core.Snapshot{
		{CompetitionID: "c1", Status: core.CompetitionRunning, TurnIndex: 3},
	}}
	m := newTestManager(t, 10, store, snaps, &fakeDispatcher{})

	require.NoError(t, m.RecoverAtStartup(context.Background()))

	assert.Equal(t, core.CompetitionCancelled, store.status("c1"))
	assert.Contains(t, snaps.deleted, "c1")
}
