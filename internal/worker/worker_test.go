package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/wire"
	"github.com/telegram-cli/telegram-cli/pkg/tgerr"
)

type fakeCaller struct {
	slices []*wire.HistorySlice
	calls  int
	err    error
}

func (f *fakeCaller) Call(ctx context.Context, call remote.Call) (any, error) { return nil, nil }

func (f *fakeCaller) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.slices) {
		return &wire.HistorySlice{}, nil
	}
	return f.slices[idx], nil
}

func newTestWorker(t *testing.T, caller Caller) (*Worker, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New("acct-1", s, caller), s
}

func TestRunOnceNoJobs(t *testing.T) {
	w, _ := newTestWorker(t, &fakeCaller{})
	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRunOnceInitialLoadAdvancesBackwardCursor(t *testing.T) {
	caller := &fakeCaller{slices: []*wire.HistorySlice{
		{Messages: []wire.RawMessage{
			{Tag: "message", ID: 10, Message: "a", Date: 1700000000},
			{Tag: "message", ID: 5, Message: "b", Date: 1700000000},
		}, HasMore: false},
	}}
	w, s := newTestWorker(t, caller)

	require.NoError(t, s.UpsertChatSyncState(model.ChatSyncState{ChatID: 100, ChatType: model.ChatTypeChannel}))
	require.NoError(t, s.UpsertChat(model.Chat{ChatID: 100, ChatType: model.ChatTypeChannel}))
	_, err := s.CreateJob(100, model.JobInitialLoad, model.PriorityMedium, nil, nil)
	require.NoError(t, err)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	st, err := s.GetChatSyncState(100)
	require.NoError(t, err)
	require.NotNil(t, st.BackwardCursor)
	assert.Equal(t, int64(5), *st.BackwardCursor)
	assert.Equal(t, int64(2), st.SyncedMessages)

	count, err := s.CountMessages(100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunOnceForwardCatchupAdvancesForwardCursor(t *testing.T) {
	caller := &fakeCaller{slices: []*wire.HistorySlice{
		{Messages: []wire.RawMessage{{Tag: "message", ID: 50, Date: 1700000000}}, HasMore: false},
	}}
	w, s := newTestWorker(t, caller)
	require.NoError(t, s.UpsertChat(model.Chat{ChatID: 100, ChatType: model.ChatTypeChannel}))
	require.NoError(t, s.UpsertChatSyncState(model.ChatSyncState{ChatID: 100, ChatType: model.ChatTypeChannel}))
	_, err := s.CreateJob(100, model.JobForwardCatchup, model.PriorityRealtime, nil, nil)
	require.NoError(t, err)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	st, err := s.GetChatSyncState(100)
	require.NoError(t, err)
	require.NotNil(t, st.ForwardCursor)
	assert.Equal(t, int64(50), *st.ForwardCursor)
}

func TestRunOnceRateLimitMarksJobFailed(t *testing.T) {
	caller := &fakeCaller{err: &tgerr.RateLimitError{Method: "messages.getHistory", WaitSeconds: 5}}
	w, s := newTestWorker(t, caller)
	require.NoError(t, s.UpsertChat(model.Chat{ChatID: 1, ChatType: model.ChatTypeChannel}))
	jobID, err := s.CreateJob(1, model.JobInitialLoad, model.PriorityMedium, nil, nil)
	require.NoError(t, err)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	active, err := s.HasActiveJobForChat(1)
	require.NoError(t, err)
	assert.False(t, active, "a rate-limited job must be marked failed, not left pending or running")

	job, err := s.GetJob(jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.JobFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "Rate limited: wait 5s", *job.ErrorMessage)
}

func TestBuildInputPeerUnknownNegativeChatIsError(t *testing.T) {
	w, _ := newTestWorker(t, &fakeCaller{})
	_, err := w.buildInputPeer(-999)
	require.Error(t, err)
	var pre *tgerr.PeerResolutionError
	require.ErrorAs(t, err, &pre)
}

func TestBuildInputPeerUnknownPositiveChatAssumesUser(t *testing.T) {
	w, _ := newTestWorker(t, &fakeCaller{})
	peer, err := w.buildInputPeer(42)
	require.NoError(t, err)
	assert.Equal(t, wire.PeerUser, peer.Kind)
	assert.Equal(t, int64(42), peer.ID)
}
