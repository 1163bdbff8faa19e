package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/wire"
)

type fakeRemoteClient struct {
	userID    int64
	connected bool
	updates   chan remote.Update
}

func newFakeClient(userID int64) *fakeRemoteClient {
	return &fakeRemoteClient{userID: userID, updates: make(chan remote.Update, 4)}
}

func (f *fakeRemoteClient) Call(ctx context.Context, call remote.Call) (any, error) { return nil, nil }
func (f *fakeRemoteClient) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	return &wire.HistorySlice{}, nil
}
func (f *fakeRemoteClient) Self(ctx context.Context) (int64, error) { return f.userID, nil }
func (f *fakeRemoteClient) Connect(ctx context.Context) error       { f.connected = true; return nil }
func (f *fakeRemoteClient) Disconnect(ctx context.Context) error    { f.connected = false; return nil }
func (f *fakeRemoteClient) IsConnected() bool                       { return f.connected }
func (f *fakeRemoteClient) Updates() <-chan remote.Update           { return f.updates }

func newTestAccountDB(t *testing.T) *store.AccountDB {
	t.Helper()
	adb, err := store.OpenAccountDB(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	return adb
}

func TestConnectAllConnectsDistinctAccounts(t *testing.T) {
	adb := newTestAccountDB(t)
	require.NoError(t, adb.UpsertAccount(model.Account{ID: "a", Phone: "+1", IsActive: true}))
	require.NoError(t, adb.UpsertAccount(model.Account{ID: "b", Phone: "+2", IsActive: true}))

	clients := map[string]*fakeRemoteClient{"a": newFakeClient(111), "b": newFakeClient(222)}
	sv := New(adb, func(acc model.Account) remote.Client { return clients[acc.ID] }, nil)

	results, err := sv.ConnectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, Connected, r.Outcome)
	}
}

func TestConnectAllMergesDuplicateUserID(t *testing.T) {
	adb := newTestAccountDB(t)
	require.NoError(t, adb.UpsertAccount(model.Account{ID: "a", Phone: "+1", IsActive: true}))
	require.NoError(t, adb.UpsertAccount(model.Account{ID: "b", Phone: "+2", IsActive: true}))

	clients := map[string]*fakeRemoteClient{"a": newFakeClient(999), "b": newFakeClient(999)}
	sv := New(adb, func(acc model.Account) remote.Client { return clients[acc.ID] }, nil)

	results, err := sv.ConnectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	outcomes := map[string]ConnectOutcome{}
	for _, r := range results {
		outcomes[r.AccountID] = r.Outcome
	}
	assert.Equal(t, Connected, outcomes["a"])
	assert.Equal(t, MergedAway, outcomes["b"])

	accounts, err := adb.ListAccounts()
	require.NoError(t, err)
	for _, acc := range accounts {
		if acc.ID == "b" {
			assert.False(t, acc.IsActive)
		}
	}
}

func TestConnectAllSkipsInactiveAccounts(t *testing.T) {
	adb := newTestAccountDB(t)
	require.NoError(t, adb.UpsertAccount(model.Account{ID: "a", IsActive: false}))
	sv := New(adb, func(acc model.Account) remote.Client { return newFakeClient(1) }, nil)

	results, err := sv.ConnectAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPumpUpdatesForwardsToHandler(t *testing.T) {
	adb := newTestAccountDB(t)
	require.NoError(t, adb.UpsertAccount(model.Account{ID: "a", IsActive: true}))

	client := newFakeClient(1)
	received := make(chan remote.Update, 1)
	sv := New(adb, func(acc model.Account) remote.Client { return client }, func(accountID string, update remote.Update) {
		received <- update
	})

	_, err := sv.ConnectAll(context.Background())
	require.NoError(t, err)

	client.updates <- remote.Update{Kind: remote.UpdateNewMessage, ChatID: 42}

	select {
	case u := <-received:
		assert.Equal(t, int64(42), u.ChatID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update to be forwarded")
	}

	sv.DisconnectAll(context.Background())
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	first := backoffDelay(0)
	second := backoffDelay(1)
	assert.Less(t, first, second)

	capped := backoffDelay(20)
	assert.LessOrEqual(t, capped.Seconds(), float64(300))
}
