package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetMessage(t *testing.T) {
	s := newTestStore(t)
	msg := model.Message{
		ChatID:      100,
		MessageID:   1,
		Text:        "hello",
		MessageType: model.MessageTypeText,
		Date:        time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertMessage(msg))

	got, err := s.GetMessage(100, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, model.MessageTypeText, got.MessageType)

	msg.Text = "edited"
	msg.IsEdited = true
	require.NoError(t, s.UpsertMessage(msg))
	got, err = s.GetMessage(100, 1)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.True(t, got.IsEdited)
}

func TestGetMessageMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetMessage(1, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkDeleted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMessage(model.Message{ChatID: 1, MessageID: 1, Date: time.Now()}))
	n, err := s.MarkDeleted(1, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.GetMessage(1, 1)
	assert.True(t, got.IsDeleted)
}

func TestUpsertMessageDoesNotClearStickyDeletion(t *testing.T) {
	s := newTestStore(t)
	msg := model.Message{ChatID: 1, MessageID: 1, Text: "hello", Date: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.UpsertMessage(msg))

	n, err := s.MarkDeleted(1, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg.Text = "edited after deletion"
	require.NoError(t, s.UpsertMessage(msg))

	got, err := s.GetMessage(1, 1)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted, "a normal re-upsert must not clear a sticky deletion mark")
	assert.Equal(t, "edited after deletion", got.Text)
}

func TestJobClaimOrderMixedPriority(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob(1, model.JobBackwardHistory, model.PriorityLow, nil, nil)
	require.NoError(t, err)
	_, err = s.CreateJob(2, model.JobForwardCatchup, model.PriorityRealtime, nil, nil)
	require.NoError(t, err)
	_, err = s.CreateJob(3, model.JobInitialLoad, model.PriorityMedium, nil, nil)
	require.NoError(t, err)

	job, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(2), job.ChatID, "realtime priority job must claim first regardless of insertion order")
	assert.Equal(t, model.JobRunning, job.Status)

	job2, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, job2)
	assert.Equal(t, int64(3), job2.ChatID)
}

func TestJobStateMachine(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateJob(1, model.JobInitialLoad, model.PriorityHigh, nil, nil)
	require.NoError(t, err)

	ok, err := s.MarkCompleted(id, 10)
	require.NoError(t, err)
	assert.False(t, ok, "cannot complete a job that has not been claimed running")

	job, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, job)

	ok, err = s.MarkCompleted(job.ID, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkFailed(job.ID, "too late")
	require.NoError(t, err)
	assert.False(t, ok, "cannot fail an already-completed job")
}

func TestRecoverCrashedJobs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob(1, model.JobInitialLoad, model.PriorityHigh, nil, nil)
	require.NoError(t, err)
	job, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, job)

	n, err := s.RecoverCrashedJobs()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recovered, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, model.JobPending, recovered.Status)
	require.NotNil(t, recovered.ErrorMessage)
	assert.Equal(t, "Daemon crashed during execution", *recovered.ErrorMessage)

	second, err := s.RecoverCrashedJobs()
	require.NoError(t, err)
	assert.Equal(t, int64(0), second, "recovery must be idempotent")

	reclaimed, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestHasActiveJobForChat(t *testing.T) {
	s := newTestStore(t)
	active, err := s.HasActiveJobForChat(1)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = s.CreateJob(1, model.JobInitialLoad, model.PriorityHigh, nil, nil)
	require.NoError(t, err)

	active, err = s.HasActiveJobForChat(1)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestChatSyncCursorAdvance(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertChatSyncState(model.ChatSyncState{
		ChatID:   1,
		ChatType: model.ChatTypePrivate,
	}))

	require.NoError(t, s.AdvanceForwardCursor(1, 500, 20))
	st, err := s.GetChatSyncState(1)
	require.NoError(t, err)
	require.NotNil(t, st.ForwardCursor)
	assert.Equal(t, int64(500), *st.ForwardCursor)
	assert.Equal(t, int64(20), st.SyncedMessages)

	require.NoError(t, s.RetreatBackwardCursor(1, 100, 15, true))
	st, err = s.GetChatSyncState(1)
	require.NoError(t, err)
	require.NotNil(t, st.BackwardCursor)
	assert.Equal(t, int64(100), *st.BackwardCursor)
	assert.True(t, st.HistoryComplete)
	assert.Equal(t, int64(35), st.SyncedMessages)
}

func TestRateLimitWindowAndFloodWait(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordCall("messages.getHistory", 60))
	}
	n, err := s.CallCountInWindow("messages.getHistory", 60)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	until := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)
	require.NoError(t, s.SetFloodWait("messages.getHistory", until, 60))
	got, err := s.GetFloodWaitUntil("messages.getHistory")
	require.NoError(t, err)
	assert.Equal(t, until, got)
}

func TestAccountDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	adb, err := OpenAccountDB(path)
	require.NoError(t, err)

	require.NoError(t, adb.UpsertAccount(model.Account{ID: "acct-1", UserID: 777, Phone: "+10000000000", IsActive: true}))

	found, err := adb.GetAccountByUserID(777)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "acct-1", found.ID)

	require.NoError(t, adb.DeactivateAccount("acct-1"))
	all, err := adb.ListAccounts()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}
