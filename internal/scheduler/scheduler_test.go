package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestPriorityForChatTypes(t *testing.T) {
	priority, enabled := PriorityFor(model.ChatTypePrivate, nil)
	assert.Equal(t, model.PriorityHigh, priority)
	assert.True(t, enabled)

	priority, enabled = PriorityFor(model.ChatTypeChannel, nil)
	assert.Equal(t, model.PriorityLow, priority)
	assert.False(t, enabled)

	small := 10
	priority, enabled = PriorityFor(model.ChatTypeGroup, &small)
	assert.Equal(t, model.PriorityHigh, priority)
	assert.True(t, enabled)

	mid := 50
	priority, enabled = PriorityFor(model.ChatTypeGroup, &mid)
	assert.Equal(t, model.PriorityMedium, priority)
	assert.True(t, enabled)

	big := 10000
	priority, enabled = PriorityFor(model.ChatTypeSupergroup, &big)
	assert.Equal(t, model.PriorityLow, priority)
	assert.False(t, enabled)
}

func TestRegisterChatIsIdempotent(t *testing.T) {
	sc, s := newTestScheduler(t)
	require.NoError(t, sc.RegisterChat(1, model.ChatTypePrivate, nil))
	require.NoError(t, sc.RegisterChat(1, model.ChatTypeChannel, nil))

	st, err := s.GetChatSyncState(1)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, model.ChatTypePrivate, st.ChatType, "second RegisterChat call must not overwrite the original registration")
}

func TestQueueIsIdempotentWhileJobActive(t *testing.T) {
	sc, s := newTestScheduler(t)
	require.NoError(t, sc.RegisterChat(1, model.ChatTypePrivate, nil))
	require.NoError(t, sc.QueueForwardCatchup(1))
	require.NoError(t, sc.QueueForwardCatchup(1))

	active, err := s.HasActiveJobForChat(1)
	require.NoError(t, err)
	assert.True(t, active)

	job, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, job)
	job2, err := s.ClaimNextJob()
	require.NoError(t, err)
	assert.Nil(t, job2, "only one ForwardCatchup job should have been queued")
}

func TestInitializeForStartupQueuesInitialLoadForFreshChat(t *testing.T) {
	sc, s := newTestScheduler(t)
	require.NoError(t, sc.RegisterChat(1, model.ChatTypePrivate, nil))
	require.NoError(t, sc.InitializeForStartup())

	job, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.JobInitialLoad, job.JobType)
}

func TestQueueFullSyncBypassesActiveCheck(t *testing.T) {
	sc, s := newTestScheduler(t)
	require.NoError(t, sc.RegisterChat(1, model.ChatTypePrivate, nil))
	require.NoError(t, sc.QueueForwardCatchup(1))
	require.NoError(t, sc.QueueFullSync(1))

	active, err := s.HasActiveJobForChat(1)
	require.NoError(t, err)
	assert.True(t, active)

	first, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, second, "FullSync must queue even when a job is already active for the chat")
}
