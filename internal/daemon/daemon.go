// Package daemon is the Daemon Loop (spec.md §4.7): the top-level process
// that opens the shared account registry and each account's own sync
// cache, recovers crashed jobs, connects every registered account, starts
// the sync worker pool, and runs a cooperative tick loop until a shutdown
// signal arrives. Exposes no network socket; external control is via PID
// file, OS signals, and the shared SQL stores (spec.md §6).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/telegram-cli/telegram-cli/config"
	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/parser"
	"github.com/telegram-cli/telegram-cli/internal/ratelimit"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/scheduler"
	"github.com/telegram-cli/telegram-cli/internal/statusbus"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/supervisor"
	"github.com/telegram-cli/telegram-cli/internal/worker"
)

// Exit codes the daemon process returns, spec.md §4.7's literal table:
// 0 Success, 1 Error, 2 AlreadyRunning, 3 NoAccounts, 4 AllAccountsFailed.
// Lifecycle errors (PID contention aside, which gets its own code) and a
// blown shutdown deadline both fall under the generic Error code (spec.md
// §7).
const (
	ExitOK                = 0
	ExitError             = 1
	ExitAlreadyRunning    = 2
	ExitNoAccounts        = 3
	ExitAllAccountsFailed = 4
)

// accountRuntime bundles the per-account pieces that each need their own
// cache database: the scheduler, the sync worker, and the sync state.
type accountRuntime struct {
	cache     *store.Store
	scheduler *scheduler.Scheduler
	worker    *worker.Worker
}

// Daemon is the fully-wired runtime: the shared account registry, one cache
// database per account (via the store Manager), the account supervisor,
// and the sync worker pool.
type Daemon struct {
	runID         string
	cacheMgr      *store.Manager
	accountDB     *store.AccountDB
	supervisor    *supervisor.Supervisor
	pool          *worker.Pool
	statusBus     *statusbus.Bus
	pidFile       *pidFile
	callerFactory CallerFactory

	tick     int64
	mu       sync.Mutex
	accounts map[string]*accountRuntime
}

// ClientFactory mints a remote.Client for an account; defined here to avoid
// an import cycle back into cmd/ wiring code.
type ClientFactory func(account model.Account) remote.Client

// CallerFactory wraps a connected remote.Client for one account into the
// Caller the Sync Worker executes through — typically a ratelimit.Service,
// optionally further wrapped by internal/replay (accountID partitions the
// replay fixture tree, spec.md §6). Defaults to plain ratelimit.New when
// nil.
type CallerFactory func(accountID string, client remote.Client, accountCache *store.Store) worker.Caller

// Open acquires the PID-file lock and opens the shared account registry.
// Per-account cache databases are opened lazily in Run, once the set of
// active accounts is known.
func Open(factory ClientFactory, callerFactory CallerFactory) (*Daemon, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("open daemon: %w", err)
	}

	pf, err := acquirePIDFile(config.DataPath("daemon.pid"))
	if err != nil {
		return nil, fmt.Errorf("open daemon: %w", err)
	}

	accountDB, err := store.OpenAccountDB(config.DataPath("data.db"))
	if err != nil {
		pf.release()
		return nil, fmt.Errorf("open daemon: open account db: %w", err)
	}

	var bus *statusbus.Bus
	if config.ValkeyEnabled {
		bus, err = statusbus.New(config.ValkeyAddress, config.ValkeyPassword, config.ValkeyDB, config.ValkeyKeyPrefix)
		if err != nil {
			logrus.WithError(err).Warn("[DAEMON] status bus disabled: connect failed")
			bus = statusbus.Disabled()
		}
	} else {
		bus = statusbus.Disabled()
	}

	if callerFactory == nil {
		callerFactory = func(accountID string, client remote.Client, accountCache *store.Store) worker.Caller {
			return ratelimit.New(client, accountCache)
		}
	}

	cacheMgr := store.NewManager(config.DataDir)

	d := &Daemon{
		runID:         uuid.NewString(),
		cacheMgr:      cacheMgr,
		accountDB:     accountDB,
		statusBus:     bus,
		pidFile:       pf,
		callerFactory: callerFactory,
		accounts:      make(map[string]*accountRuntime),
	}
	d.supervisor = supervisor.New(accountDB, func(acc model.Account) remote.Client { return factory(acc) }, d.handleUpdate)
	return d, nil
}

func (d *Daemon) handleUpdate(accountID string, update remote.Update) {
	rt, ok := d.accountRuntime(accountID)
	if !ok {
		return
	}
	switch update.Kind {
	case remote.UpdateNewMessage, remote.UpdateEditMessage:
		if update.Message == nil {
			return
		}
		msg := parser.Parse(update.ChatID, *update.Message, false)
		if msg == nil {
			return
		}
		if err := rt.cache.UpsertMessage(*msg); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Warn("[DAEMON] failed to cache realtime message")
		}
		if err := rt.scheduler.RegisterChat(update.ChatID, guessChatType(update.ChatID), nil); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Warn("[DAEMON] failed to register chat for realtime update")
		}
		if update.Kind == remote.UpdateNewMessage {
			st, err := rt.cache.GetChatSyncState(update.ChatID)
			if err == nil && st != nil {
				cursor := msg.MessageID
				if st.ForwardCursor != nil && *st.ForwardCursor > cursor {
					cursor = *st.ForwardCursor
				}
				err = rt.cache.AdvanceForwardCursor(update.ChatID, cursor, 1)
			}
			if err != nil {
				logrus.WithError(err).WithField("account_id", accountID).Warn("[DAEMON] failed to advance forward cursor for realtime message")
			}
		}
	case remote.UpdateDeleteMessages:
		if update.ChannelID != nil {
			if _, err := rt.cache.MarkDeleted(*update.ChannelID, update.MessageIDs); err != nil {
				logrus.WithError(err).WithField("account_id", accountID).Warn("[DAEMON] failed to mark deleted")
			}
			return
		}
		if _, err := rt.cache.MarkDeletedAnyChat(update.MessageIDs); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Warn("[DAEMON] failed to mark deleted (any chat)")
		}
	}
}

func (d *Daemon) accountRuntime(accountID string) (*accountRuntime, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rt, ok := d.accounts[accountID]
	return rt, ok
}

// Run recovers crashed jobs, connects every account, starts the worker
// pool, and runs the tick loop until ctx is cancelled (spec.md §4.7).
func (d *Daemon) Run(ctx context.Context) error {
	accounts, err := d.accountDB.ListAccounts()
	if err != nil {
		return fmt.Errorf("run: list accounts: %w", err)
	}

	activeAccounts := 0
	totalRecovered := int64(0)
	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		activeAccounts++
		cache, err := d.cacheMgr.GetOrOpen(acc.ID)
		if err != nil {
			return fmt.Errorf("run: open cache for account %s: %w", acc.ID, err)
		}
		recovered, err := cache.RecoverCrashedJobs()
		if err != nil {
			return fmt.Errorf("run: recover crashed jobs for %s: %w", acc.ID, err)
		}
		totalRecovered += recovered

		d.mu.Lock()
		d.accounts[acc.ID] = &accountRuntime{cache: cache, scheduler: scheduler.New(cache)}
		d.mu.Unlock()
	}
	if totalRecovered > 0 {
		logrus.Infof("[DAEMON] recovered %d crashed jobs across all accounts", totalRecovered)
	}
	if activeAccounts == 0 {
		return errNoAccounts
	}

	results, err := d.supervisor.ConnectAll(ctx)
	if err != nil {
		return fmt.Errorf("run: connect accounts: %w", err)
	}
	connected := 0
	for _, r := range results {
		logrus.WithFields(logrus.Fields{"account_id": r.AccountID, "outcome": r.Outcome}).Info("[DAEMON] account connect result")
		if r.Outcome != supervisor.Connected {
			continue
		}
		connected++

		rt, ok := d.accountRuntime(r.AccountID)
		if !ok {
			continue
		}
		if err := rt.scheduler.InitializeForStartup(); err != nil {
			logrus.WithError(err).WithField("account_id", r.AccountID).Warn("[DAEMON] scheduler startup initialization had errors")
		}

		client, ok := d.supervisor.Client(r.AccountID)
		if !ok {
			continue
		}
		caller := d.callerFactory(r.AccountID, client, rt.cache)
		rt.worker = worker.New(r.AccountID, rt.cache, caller)
	}
	if connected == 0 {
		return errAllAccountsFailed
	}

	d.pool = worker.NewPool(config.EnvInt("SYNC_WORKER_COUNT", 4), config.EnvInt("SYNC_WORKER_QUEUE_SIZE", 64))
	d.pool.Start(ctx)

	d.writeStartupStatus(len(accounts), connected)

	ticker := time.NewTicker(time.Duration(config.TickInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-ticker.C:
			d.onTick(ctx)
		}
	}
}

func (d *Daemon) writeStartupStatus(totalAccounts, connected int) {
	d.mu.Lock()
	var anyCache *store.Store
	for _, rt := range d.accounts {
		anyCache = rt.cache
		break
	}
	d.mu.Unlock()
	if anyCache == nil {
		return
	}
	messagesSynced, pending, running := d.aggregateCounts()
	if err := anyCache.SetStatus(model.StatusKeyPID, strconv.Itoa(os.Getpid())); err != nil {
		logrus.WithError(err).Warn("[DAEMON] failed to write status")
	}
	_ = anyCache.SetStatus(model.StatusKeyDaemonStatus, model.DaemonStatusRunning)
	_ = anyCache.SetStatus(model.StatusKeyStartedAt, time.Now().UTC().Format(time.RFC3339))
	_ = anyCache.SetStatus(model.StatusKeyTotalAccounts, strconv.Itoa(totalAccounts))
	_ = anyCache.SetStatus(model.StatusKeyConnectedAccounts, strconv.Itoa(connected))
	_ = anyCache.SetStatus(model.StatusKeyMessagesSynced, strconv.FormatInt(messagesSynced, 10))
	_ = anyCache.SetStatus(model.StatusKeyPendingJobs, strconv.FormatInt(pending, 10))
	_ = anyCache.SetStatus(model.StatusKeyRunningJobs, strconv.FormatInt(running, 10))
}

// aggregateCounts sums synced-message and job-status counts across every
// account's own cache database: each account has its own sync cache (spec.md
// Open Questions, one cache file per account), so daemon_status's
// messages_synced/pending_jobs/running_jobs keys (spec.md §3/§6) are the sum
// across all of them, not any single account's view.
func (d *Daemon) aggregateCounts() (messagesSynced, pending, running int64) {
	d.mu.Lock()
	runtimes := make([]*accountRuntime, 0, len(d.accounts))
	for _, rt := range d.accounts {
		runtimes = append(runtimes, rt)
	}
	d.mu.Unlock()

	for _, rt := range runtimes {
		chats, err := rt.cache.ListSyncEnabledChats()
		if err != nil {
			logrus.WithError(err).Warn("[DAEMON] failed to list synced chats for status aggregation")
		} else {
			for _, c := range chats {
				messagesSynced += c.SyncedMessages
			}
		}

		if n, err := rt.cache.CountJobsByStatus(model.JobPending); err != nil {
			logrus.WithError(err).Warn("[DAEMON] failed to count pending jobs for status aggregation")
		} else {
			pending += n
		}
		if n, err := rt.cache.CountJobsByStatus(model.JobRunning); err != nil {
			logrus.WithError(err).Warn("[DAEMON] failed to count running jobs for status aggregation")
		} else {
			running += n
		}
	}
	return messagesSynced, pending, running
}

// onTick runs one iteration of the cooperative tick loop: dispatch claimable
// jobs per connected account, publish daemon status every
// HealthCheckEveryTicks ticks, and clean up old job rows every
// CleanupEveryTicks ticks (spec.md §4.7). Connection health is watched by
// the Account Supervisor, not here.
func (d *Daemon) onTick(ctx context.Context) {
	d.mu.Lock()
	d.tick++
	tick := d.tick
	d.mu.Unlock()

	for _, id := range d.supervisor.ConnectedAccountIDs() {
		accountID := id
		d.pool.TryDispatch(worker.Job{
			AccountID: accountID,
			Handler: func(jobCtx context.Context) error {
				return d.runAccountJobs(jobCtx, accountID)
			},
		})
	}

	if tick%int64(config.HealthCheckEveryTicks) == 0 {
		d.publishStatus(ctx)
	}
	if tick%int64(config.CleanupEveryTicks) == 0 {
		d.mu.Lock()
		runtimes := make([]*accountRuntime, 0, len(d.accounts))
		for _, rt := range d.accounts {
			runtimes = append(runtimes, rt)
		}
		d.mu.Unlock()
		for _, rt := range runtimes {
			if err := rt.scheduler.Cleanup(int64(config.CleanupAgeSeconds)); err != nil {
				logrus.WithError(err).Warn("[DAEMON] cleanup tick failed")
			}
		}
	}
}

// runAccountJobs claims and executes jobs for one account's client until
// none remain, bounding each tick's work to whatever was pending when it
// started (spec.md §4.5/§4.7).
func (d *Daemon) runAccountJobs(ctx context.Context, accountID string) error {
	rt, ok := d.accountRuntime(accountID)
	if !ok || rt.worker == nil {
		return nil
	}
	for {
		ran, err := rt.worker.RunOnce(ctx)
		if err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Warn("[DAEMON] job execution failed")
		}
		if !ran {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (d *Daemon) publishStatus(ctx context.Context) {
	d.mu.Lock()
	var anyCache *store.Store
	for _, rt := range d.accounts {
		anyCache = rt.cache
		break
	}
	d.mu.Unlock()
	if anyCache == nil {
		return
	}
	status, err := anyCache.GetAllStatus()
	if err != nil {
		logrus.WithError(err).Warn("[DAEMON] failed to read status for publish")
		return
	}
	messagesSynced, pending, running := d.aggregateCounts()
	status[model.StatusKeyLastUpdate] = time.Now().UTC().Format(time.RFC3339)
	status[model.StatusKeyMessagesSynced] = strconv.FormatInt(messagesSynced, 10)
	status[model.StatusKeyPendingJobs] = strconv.FormatInt(pending, 10)
	status[model.StatusKeyRunningJobs] = strconv.FormatInt(running, 10)
	d.statusBus.Publish(ctx, status)
}

// shutdown initiates a graceful stop: stop the worker pool, disconnect
// every account, write final status, release the PID file and close every
// per-account cache. Run returns once this completes or the shutdown
// deadline elapses (spec.md §4.7).
func (d *Daemon) shutdown() error {
	logrus.Info("[DAEMON] shutting down")

	done := make(chan struct{})
	go func() {
		if d.pool != nil {
			d.pool.Stop()
		}
		d.supervisor.DisconnectAll(context.Background())

		d.mu.Lock()
		for _, rt := range d.accounts {
			_ = rt.cache.SetStatus(model.StatusKeyDaemonStatus, model.DaemonStatusStopped)
		}
		d.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(config.ShutdownTimeoutSecs) * time.Second):
		logrus.Error("[DAEMON] shutdown deadline exceeded, forcing exit")
		d.cleanup()
		return errShutdownTimeout
	}

	d.cleanup()
	return nil
}

func (d *Daemon) cleanup() {
	d.statusBus.Close()
	d.cacheMgr.CloseAll()
	d.pidFile.release()
}

// guessChatType infers a chat's type from its id sign when a realtime update
// introduces a chat the scheduler has never registered: MTProto ids for
// groups and channels are always negative, a plain user id is positive.
// RegisterChat treats this as a first-contact default only — it never
// overwrites a chat_sync_state row that already carries the real type
// learned from a sync job.
func guessChatType(chatID int64) model.ChatType {
	if chatID < 0 {
		return model.ChatTypeGroup
	}
	return model.ChatTypePrivate
}

var (
	errShutdownTimeout   = errors.New("shutdown deadline exceeded")
	errNoAccounts        = errors.New("no accounts registered")
	errAllAccountsFailed = errors.New("all accounts failed to connect")
)

// IsShutdownTimeout reports whether err is the graceful-shutdown deadline
// error, so cmd/ can map it to the generic Error exit code (spec.md §7).
func IsShutdownTimeout(err error) bool {
	return errors.Is(err, errShutdownTimeout)
}

// IsNoAccounts reports whether err means no accounts were registered to
// connect to, so cmd/ can map it to ExitNoAccounts (spec.md §4.7/§7).
func IsNoAccounts(err error) bool {
	return errors.Is(err, errNoAccounts)
}

// IsAllAccountsFailed reports whether err means every registered account
// failed to connect, so cmd/ can map it to ExitAllAccountsFailed (spec.md
// §4.7/§7).
func IsAllAccountsFailed(err error) bool {
	return errors.Is(err, errAllAccountsFailed)
}
