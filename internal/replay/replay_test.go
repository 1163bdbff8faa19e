package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/wire"
)

type fakeInner struct {
	historyCalls int
	slice        *wire.HistorySlice
}

func (f *fakeInner) Call(ctx context.Context, call remote.Call) (any, error) { return "live-response", nil }
func (f *fakeInner) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	f.historyCalls++
	return f.slice, nil
}
func (f *fakeInner) Self(ctx context.Context) (int64, error) { return 1, nil }
func (f *fakeInner) Connect(ctx context.Context) error       { return nil }
func (f *fakeInner) Disconnect(ctx context.Context) error    { return nil }
func (f *fakeInner) IsConnected() bool                       { return true }
func (f *fakeInner) Updates() <-chan remote.Update           { return nil }

func TestRecordThenReplayFetchHistory(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeInner{slice: &wire.HistorySlice{
		Messages: []wire.RawMessage{{Tag: "message", ID: 1, Message: "hi", Date: 1700000000}},
		Count:    1,
	}}

	recorder := New(inner, Record, dir, "acct-1")
	req := remote.HistoryRequest{Peer: remote.InputPeer{ID: 100}, Limit: 10}
	got, err := recorder.FetchHistory(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, 1, inner.historyCalls)

	replayer := New(inner, Replay, dir, "acct-1")
	replayed, err := replayer.FetchHistory(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, replayed)
	assert.Equal(t, 1, replayed.Count)
	require.Len(t, replayed.Messages, 1)
	assert.Equal(t, "hi", replayed.Messages[0].Message)
	assert.Equal(t, 1, inner.historyCalls, "replay must never call through to the wrapped client")
}

func TestReplayMissingFixtureErrors(t *testing.T) {
	inner := &fakeInner{slice: &wire.HistorySlice{}}
	replayer := New(inner, Replay, t.TempDir(), "acct-1")
	_, err := replayer.FetchHistory(context.Background(), remote.HistoryRequest{Peer: remote.InputPeer{ID: 1}})
	require.Error(t, err)
}

func TestFixtureKeyIsOrderIndependent(t *testing.T) {
	k1, err := fixtureKey("m", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	k2, err := fixtureKey("m", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestFixturePathLayout(t *testing.T) {
	c := New(&fakeInner{}, Off, "/data/fixtures/telegram", "42")
	path := c.fixturePath("messages.getHistory", "abc123")
	assert.Equal(t, filepath.Join("/data/fixtures/telegram", "account-42", "messages.getHistory", "abc123.json"), path)
}

func TestOffModeNeverWritesFixtures(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeInner{slice: &wire.HistorySlice{Count: 1}}
	c := New(inner, Off, dir, "acct-1")
	_, err := c.FetchHistory(context.Background(), remote.HistoryRequest{Peer: remote.InputPeer{ID: 1}})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "account-acct-1"))
	assert.True(t, os.IsNotExist(statErr))
}
