// Package cmd wires the daemon's process entrypoint: a cobra CLI the same
// shape as the teacher's cmd/root.go (PersistentFlags bound through viper,
// logrus configured before anything else runs), reduced to two
// subcommands, `daemon` and `accounts` — spec.md §1 treats the
// interactive auth flow and the read-only query commands (`send`,
// `contacts`, `status`) as external collaborators "specified only at their
// interface," so they are not implemented here.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/telegram-cli/telegram-cli/config"
	"github.com/telegram-cli/telegram-cli/internal/daemon"
	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/ratelimit"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/replay"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/wire"
	"github.com/telegram-cli/telegram-cli/internal/worker"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "telegram-cli",
	Short:   "Multi-account Telegram sync daemon",
	Version: config.AppVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(accountsCmd)
}

// Execute is the process entrypoint, called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("[CMD] command failed")
		os.Exit(1)
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon loop (spec.md §4.7) until a shutdown signal arrives",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		logrus.WithError(err).Error("[CMD] invalid configuration")
		os.Exit(daemon.ExitError)
	}

	d, err := daemon.Open(clientFactory, buildCaller)
	if err != nil {
		if daemon.IsAlreadyRunning(err) {
			logrus.Error("[CMD] daemon already running against this data directory")
			os.Exit(daemon.ExitAlreadyRunning)
		}
		logrus.WithError(err).Error("[CMD] failed to open daemon")
		os.Exit(daemon.ExitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logrus.Infof("[CMD] telegram-cli %s starting, data dir %s", config.AppVersion, config.DataDir)

	runErr := d.Run(ctx)
	switch {
	case runErr == nil:
		logrus.Info("[CMD] daemon stopped cleanly")
		return nil
	case daemon.IsNoAccounts(runErr):
		logrus.Error("[CMD] no accounts registered, nothing to sync")
		os.Exit(daemon.ExitNoAccounts)
	case daemon.IsAllAccountsFailed(runErr):
		logrus.Error("[CMD] every registered account failed to connect")
		os.Exit(daemon.ExitAllAccountsFailed)
	case daemon.IsShutdownTimeout(runErr):
		logrus.Error("[CMD] shutdown deadline exceeded, forced exit")
		os.Exit(daemon.ExitError)
	default:
		logrus.WithError(runErr).Error("[CMD] daemon run failed")
		os.Exit(daemon.ExitError)
	}
	return nil
}

// clientFactory mints the RemoteClient each connected account's Supervisor
// session and Sync Worker execute through. spec.md §1 scopes the concrete
// MTProto transport library out of this module (see DESIGN.md's "dropped
// teacher dependencies"): unimplementedClient is the documented integration
// seam a real transport plugs into. Its Connect always fails, so without a
// real transport no account connects, in Replay mode as well.
func clientFactory(acc model.Account) remote.Client {
	return &unimplementedClient{accountID: acc.ID}
}

// buildCaller assembles the per-account call chain the data-flow in
// spec.md §2 describes: the Sync Worker calls through the Rate-Limit
// Service wrapper, which itself calls through the Record/Replay Harness
// wrapper, which finally reaches the RemoteClient.
func buildCaller(accountID string, client remote.Client, accountCache *store.Store) worker.Caller {
	mode := replay.Off
	switch {
	case config.APIReplay:
		mode = replay.Replay
	case config.APIRecord:
		mode = replay.Record
	}
	if mode == replay.Off {
		return ratelimit.New(client, accountCache)
	}
	wrapped := replay.New(client, mode, config.FixturesDir, accountID)
	return ratelimit.New(wrapped, accountCache)
}

// unimplementedClient satisfies remote.Client without ever reaching a real
// upstream connection. Connect/Call/FetchHistory/Self fail loudly so a run
// surfaces a clear, actionable error instead of silently doing nothing;
// Updates returns a channel that is never written to.
type unimplementedClient struct {
	accountID string
	connected bool
	updates   chan remote.Update
}

func (c *unimplementedClient) errNoTransport(op string) error {
	return fmt.Errorf("account %s: no RemoteClient transport wired for %s (spec.md §1 treats the MTProto wire library as an external collaborator; inject a real remote.Client)", c.accountID, op)
}

func (c *unimplementedClient) Call(ctx context.Context, call remote.Call) (any, error) {
	return nil, c.errNoTransport("Call(" + call.Options.Method + ")")
}

func (c *unimplementedClient) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	return nil, c.errNoTransport("FetchHistory")
}

func (c *unimplementedClient) Self(ctx context.Context) (int64, error) {
	return 0, c.errNoTransport("Self")
}

func (c *unimplementedClient) Connect(ctx context.Context) error {
	return c.errNoTransport("Connect")
}

func (c *unimplementedClient) Disconnect(ctx context.Context) error {
	c.connected = false
	return nil
}

func (c *unimplementedClient) IsConnected() bool { return c.connected }

func (c *unimplementedClient) Updates() <-chan remote.Update {
	if c.updates == nil {
		c.updates = make(chan remote.Update)
	}
	return c.updates
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List registered accounts (data.db), their active flag and synced-message counts",
	RunE:  runAccountsList,
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	db, err := store.OpenAccountDB(config.DataPath("data.db"))
	if err != nil {
		return fmt.Errorf("open account registry: %w", err)
	}
	accounts, err := db.ListAccounts()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		fmt.Println("no accounts registered")
		return nil
	}

	mgr := store.NewManager(config.DataDir)
	defer mgr.CloseAll()

	for _, acc := range accounts {
		status := "inactive"
		if acc.IsActive {
			status = "active"
		}
		label := acc.Label
		if label == "" {
			label = acc.Phone
		}

		synced := int64(0)
		if cache, err := mgr.GetOrOpen(acc.ID); err == nil {
			if chats, err := cache.ListSyncEnabledChats(); err == nil {
				for _, c := range chats {
					synced += c.SyncedMessages
				}
			}
		}
		fmt.Printf("%-12s %-8s %-20s %s messages synced\n", acc.ID, status, label, humanize.Comma(synced))
	}
	return nil
}
