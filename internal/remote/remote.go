// Package remote declares the RemoteClient contract the daemon treats as an
// opaque collaborator (spec.md §1): "a generic typed call(request) →
// response method plus push streams for new/edited/deleted messages." The
// concrete MTProto transport library is out of scope; this package only
// defines the surface the Rate-Limit Service, Sync Worker, Account
// Supervisor, and Record/Replay Harness are written against. It contains no
// implementation of Client; tests define their own fakes.
package remote

import (
	"context"

	"github.com/telegram-cli/telegram-cli/internal/wire"
)

// InputPeer is the three-kind discriminated identifier the upstream API
// requires to address a chat (spec.md GLOSSARY).
type InputPeer struct {
	Kind       wire.PeerKind
	ID         int64
	AccessHash int64
}

// CallOptions carries per-call metadata the rate limiter and record/replay
// harness both need: the method name (for flood-wait bucketing) and an
// arbitrary request payload hashed into the fixture key.
type CallOptions struct {
	Method string
}

// HistoryRequest is the bounded fetch described in spec.md §4.5 step 5.
// MinID bounds the fetch from below (only messages with id > MinID); the
// Sync Worker sets it from the forward cursor for ForwardCatchup. OffsetID
// starts the fetch below an id (only messages with id < OffsetID, newest
// first); backward jobs start it at the backward cursor, and the worker
// lowers it to the oldest id returned to fetch each further page. Zero
// leaves either bound unset.
type HistoryRequest struct {
	Peer     InputPeer
	MinID    int64
	OffsetID int64
	Limit    int
}

// Call is the generic typed request envelope the Rate-Limit Service and
// Record/Replay Harness wrap transparently (spec.md §4.1/§4.8).
type Call struct {
	Options CallOptions
	Request any
}

// FloodWait is the structured shape of a flood-wait error, when the
// transport surfaces one as a typed value rather than an embedded
// "FLOOD_WAIT_<N>" string (spec.md §4.1).
type FloodWait struct {
	Seconds int
}

func (e *FloodWait) Error() string { return "FLOOD_WAIT" }

// Client is the opaque upstream collaborator. A concrete MTProto
// implementation lives outside this module's scope; RemoteClient
// implementations are injected into the Sync Worker and Account Supervisor.
type Client interface {
	// Call issues one generic typed RPC. Implementations return *FloodWait
	// (or an error whose message embeds "FLOOD_WAIT_<N>") when the upstream
	// imposes a cooldown.
	Call(ctx context.Context, call Call) (any, error)

	// FetchHistory issues a bounded history fetch (spec.md §4.5 step 5).
	FetchHistory(ctx context.Context, req HistoryRequest) (*wire.HistorySlice, error)

	// Self resolves the authenticated user for this connection (used by the
	// Account Supervisor at connect time to identify the account, spec.md
	// §4.6). The supervisor's health watch does not call it; it polls
	// IsConnected.
	Self(ctx context.Context) (userID int64, err error)

	// Connect / Disconnect manage the underlying session connection.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Updates returns the realtime push channels the Account Supervisor
	// attaches handlers to (spec.md §4.6).
	Updates() <-chan Update
}

// UpdateKind discriminates the three realtime update shapes spec.md §4.6
// describes.
type UpdateKind string

const (
	UpdateNewMessage     UpdateKind = "new-message"
	UpdateEditMessage    UpdateKind = "edit-message"
	UpdateDeleteMessages UpdateKind = "delete-messages"
)

// Update is one push-stream event.
type Update struct {
	Kind UpdateKind

	// NewMessage / EditMessage payload.
	Message *wire.RawMessage
	ChatID  int64

	// DeleteMessages payload. ChannelID is non-nil for the channel-scoped
	// delete shape (spec.md §4.6); nil for the DM/basic-group flavor where
	// message ids must be looked up across all chats.
	ChannelID  *int64
	MessageIDs []int64
}
