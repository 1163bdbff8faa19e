// Package supervisor is the Account Supervisor (spec.md §4.6): it owns one
// RemoteClient connection per registered account, attaches realtime update
// handlers, merges duplicate logins, and reconnects with exponential
// backoff on disconnect. Connection lifecycle is grounded on the teacher's
// infrastructure/whatsapp/adapter/lifecycle.go Start/Stop/Status shape.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/telegram-cli/telegram-cli/config"
	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/store"
)

// ConnectOutcome discriminates the tri-state result of connecting an
// account (DESIGN.md Open Question decision): an already-authenticated
// duplicate login is merged away rather than treated as either a plain
// success or a hard failure.
type ConnectOutcome string

const (
	Connected ConnectOutcome = "connected"
	MergedAway ConnectOutcome = "merged_away"
	Failed    ConnectOutcome = "failed"
)

// ConnectResult is what Supervisor.ConnectAll reports for one account.
type ConnectResult struct {
	AccountID string
	Outcome   ConnectOutcome
	Err       error
}

// ClientFactory builds a fresh, not-yet-connected RemoteClient for an
// account — injected so tests can substitute a fake.
type ClientFactory func(account model.Account) remote.Client

// MessageHandler processes one realtime update (spec.md §4.6): parsing,
// caching, and cursor bookkeeping for new/edited/deleted messages. Supplied
// by the daemon wiring layer so this package stays independent of the
// parser/store glue.
type MessageHandler func(accountID string, update remote.Update)

// Supervisor manages the connection lifecycle for every registered
// account.
type Supervisor struct {
	accountDB *store.AccountDB
	factory   ClientFactory
	onUpdate  MessageHandler

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	client       remote.Client
	cancel       context.CancelFunc
	attempt      int
	lastAttempt  time.Time
}

// New builds a Supervisor backed by accountDB for account records and
// factory to mint RemoteClient connections.
func New(accountDB *store.AccountDB, factory ClientFactory, onUpdate MessageHandler) *Supervisor {
	return &Supervisor{accountDB: accountDB, factory: factory, onUpdate: onUpdate, sessions: make(map[string]*session)}
}

// ConnectAll connects every active registered account, merging duplicates
// by resolved user id (spec.md §4.6). Failures for one account do not
// prevent the others from connecting.
func (sv *Supervisor) ConnectAll(ctx context.Context) ([]ConnectResult, error) {
	accounts, err := sv.accountDB.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("connect all: list accounts: %w", err)
	}

	seenUserIDs := make(map[int64]string)
	results := make([]ConnectResult, 0, len(accounts))
	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		results = append(results, sv.connectOne(ctx, acc, seenUserIDs))
	}
	return results, nil
}

func (sv *Supervisor) connectOne(ctx context.Context, acc model.Account, seenUserIDs map[int64]string) ConnectResult {
	client := sv.factory(acc)
	if err := client.Connect(ctx); err != nil {
		return ConnectResult{AccountID: acc.ID, Outcome: Failed, Err: err}
	}

	userID, err := client.Self(ctx)
	if err != nil {
		_ = client.Disconnect(ctx)
		return ConnectResult{AccountID: acc.ID, Outcome: Failed, Err: err}
	}

	if existingID, dup := seenUserIDs[userID]; dup && existingID != acc.ID {
		// Same Telegram user id already connected under another account
		// record: keep the first connection, deactivate this one.
		_ = client.Disconnect(ctx)
		if err := sv.accountDB.DeactivateAccount(acc.ID); err != nil {
			logrus.WithError(err).WithField("account_id", acc.ID).Warn("[SUPERVISOR] failed to deactivate merged-away account")
		}
		return ConnectResult{AccountID: acc.ID, Outcome: MergedAway}
	}
	seenUserIDs[userID] = acc.ID

	acc.UserID = userID
	if err := sv.accountDB.UpsertAccount(acc); err != nil {
		logrus.WithError(err).WithField("account_id", acc.ID).Warn("[SUPERVISOR] failed to persist resolved user id")
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sv.mu.Lock()
	sv.sessions[acc.ID] = &session{client: client, cancel: cancel}
	sv.mu.Unlock()

	go sv.pumpUpdates(sessCtx, acc.ID, client)
	go sv.watchHealth(sessCtx, acc)

	return ConnectResult{AccountID: acc.ID, Outcome: Connected}
}

// pumpUpdates forwards the client's push stream to the daemon's
// MessageHandler until the channel closes or the context is cancelled.
func (sv *Supervisor) pumpUpdates(ctx context.Context, accountID string, client remote.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-client.Updates():
			if !ok {
				return
			}
			if sv.onUpdate != nil {
				sv.onUpdate(accountID, update)
			}
		}
	}
}

// watchHealth polls IsConnected and, on disconnect, reconnects with
// exponential backoff (spec.md §4.6): initial delay, doubling each attempt,
// capped at a maximum delay, up to a bounded number of attempts before
// giving up and leaving the account offline for the next daemon restart.
func (sv *Supervisor) watchHealth(ctx context.Context, acc model.Account) {
	ticker := time.NewTicker(time.Duration(config.TickInterval) * time.Second * 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.mu.Lock()
			sess, ok := sv.sessions[acc.ID]
			sv.mu.Unlock()
			if !ok {
				return
			}
			if sess.client.IsConnected() {
				sess.attempt = 0
				continue
			}
			sv.reconnectWithBackoff(ctx, acc, sess)
		}
	}
}

func (sv *Supervisor) reconnectWithBackoff(ctx context.Context, acc model.Account, sess *session) {
	for sess.attempt < config.ReconnectMaxAttempts {
		delay := backoffDelay(sess.attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		sess.attempt++
		sess.lastAttempt = time.Now()
		if err := sess.client.Connect(ctx); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"account_id": acc.ID, "attempt": sess.attempt}).
				Warn("[SUPERVISOR] reconnect attempt failed")
			continue
		}
		logrus.WithField("account_id", acc.ID).Info("[SUPERVISOR] reconnected")
		sess.attempt = 0
		return
	}
	logrus.WithField("account_id", acc.ID).Error("[SUPERVISOR] giving up reconnecting after max attempts")
}

// backoffDelay computes the exponential backoff delay for attempt n,
// applying config.ReconnectMultiplier and capping at ReconnectMaxDelaySecs
// (spec.md §4.6 defaults).
func backoffDelay(attempt int) time.Duration {
	secs := float64(config.ReconnectInitialDelaySecs) * math.Pow(config.ReconnectMultiplier, float64(attempt))
	if secs > float64(config.ReconnectMaxDelaySecs) {
		secs = float64(config.ReconnectMaxDelaySecs)
	}
	return time.Duration(secs) * time.Second
}

// DisconnectAll tears down every active session, called during daemon
// shutdown.
func (sv *Supervisor) DisconnectAll(ctx context.Context) {
	sv.mu.Lock()
	sessions := make(map[string]*session, len(sv.sessions))
	for k, v := range sv.sessions {
		sessions[k] = v
	}
	sv.mu.Unlock()

	for id, sess := range sessions {
		sess.cancel()
		if err := sess.client.Disconnect(ctx); err != nil {
			logrus.WithError(err).WithField("account_id", id).Warn("[SUPERVISOR] disconnect failed")
		}
	}
}

// Client returns the live RemoteClient for accountID, if a session exists —
// used by the daemon loop to build a rate-limited Worker per account.
func (sv *Supervisor) Client(accountID string) (remote.Client, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sess, ok := sv.sessions[accountID]
	if !ok {
		return nil, false
	}
	return sess.client, true
}

// ConnectedAccountIDs returns the account ids with a live session, used by
// the daemon loop to decide which accounts get jobs dispatched each tick.
func (sv *Supervisor) ConnectedAccountIDs() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	ids := make([]string, 0, len(sv.sessions))
	for id, sess := range sv.sessions {
		if sess.client.IsConnected() {
			ids = append(ids, id)
		}
	}
	return ids
}
