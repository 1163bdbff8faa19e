package ratelimit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/wire"
	"github.com/telegram-cli/telegram-cli/pkg/tgerr"
)

type fakeClient struct {
	callErr     error
	historyErr  error
	callCount   int
}

func (f *fakeClient) Call(ctx context.Context, call remote.Call) (any, error) {
	f.callCount++
	return "ok", f.callErr
}
func (f *fakeClient) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	f.callCount++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return &wire.HistorySlice{}, nil
}
func (f *fakeClient) Self(ctx context.Context) (int64, error)     { return 1, nil }
func (f *fakeClient) Connect(ctx context.Context) error           { return nil }
func (f *fakeClient) Disconnect(ctx context.Context) error        { return nil }
func (f *fakeClient) IsConnected() bool                           { return true }
func (f *fakeClient) Updates() <-chan remote.Update               { return nil }

func newTestService(t *testing.T, client remote.Client) *Service {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(client, s)
}

func TestCallSucceeds(t *testing.T) {
	svc := newTestService(t, &fakeClient{})
	resp, err := svc.Call(context.Background(), remote.Call{Options: remote.CallOptions{Method: "users.getFullUser"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestCallBlockedAfterWindowExhausted(t *testing.T) {
	client := &fakeClient{}
	svc := newTestService(t, client)
	svc.limits = map[string]MethodLimit{"test.method": {WindowSeconds: 60, MaxCalls: 2}}

	for i := 0; i < 2; i++ {
		_, err := svc.Call(context.Background(), remote.Call{Options: remote.CallOptions{Method: "test.method"}})
		require.NoError(t, err)
	}

	_, err := svc.Call(context.Background(), remote.Call{Options: remote.CallOptions{Method: "test.method"}})
	require.Error(t, err)
	var rle *tgerr.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2, client.callCount, "the blocked call must never reach the underlying client")
}

func TestFloodWaitSetsCooldown(t *testing.T) {
	client := &fakeClient{callErr: &remote.FloodWait{Seconds: 30}}
	svc := newTestService(t, client)

	_, err := svc.Call(context.Background(), remote.Call{Options: remote.CallOptions{Method: "messages.getHistory"}})
	require.Error(t, err)
	var rle *tgerr.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 30, rle.WaitSeconds)

	client.callErr = nil
	_, err = svc.Call(context.Background(), remote.Call{Options: remote.CallOptions{Method: "messages.getHistory"}})
	require.Error(t, err, "a fresh call must still be blocked until the flood wait expires")
	require.ErrorAs(t, err, &rle)
}

func TestDetectFloodWaitFromStringError(t *testing.T) {
	secs, ok := detectFloodWait(errors.New("rpc error: FLOOD_WAIT_45"))
	require.True(t, ok)
	assert.Equal(t, 45, secs)

	_, ok = detectFloodWait(errors.New("some other error"))
	assert.False(t, ok)
}

func TestFetchHistoryRecordsCall(t *testing.T) {
	client := &fakeClient{}
	svc := newTestService(t, client)
	_, err := svc.FetchHistory(context.Background(), remote.HistoryRequest{Limit: 100})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, client.callCount)
	n, err := svc.store.CallCountInWindow("messages.getHistory", 60)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
