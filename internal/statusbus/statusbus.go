// Package statusbus optionally fans out DaemonStatus snapshots over a
// valkey pub/sub channel, grounded on the teacher's
// infrastructure/valkey/client.go connection wrapper and
// pkg/botmonitor/monitor.go's event-channel publishing pattern. It is an
// outbound client connection only — never a listening socket — so it does
// not violate the daemon's "no network socket" constraint (spec.md §6).
package statusbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// Bus publishes DaemonStatus snapshots to a valkey channel. A nil Bus (or
// one built with Disabled) is a safe no-op, so daemon wiring can always
// call Publish without a feature-flag check at every call site.
type Bus struct {
	client  valkey.Client
	channel string
}

// Disabled returns a Bus whose Publish is a no-op, used when
// config.ValkeyEnabled is false.
func Disabled() *Bus { return &Bus{} }

// New connects to a valkey instance at address and returns a Bus that
// publishes to keyPrefix + ":status".
func New(address, password string, db int, keyPrefix string) (*Bus, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{address},
		Password:    password,
		SelectDB:    db,
	})
	if err != nil {
		return nil, fmt.Errorf("statusbus: connect: %w", err)
	}
	return &Bus{client: client, channel: keyPrefix + ":status"}, nil
}

// Publish serializes status and publishes it, logging (not returning) any
// error: a status-bus hiccup must never interrupt the daemon's own tick
// loop.
func (b *Bus) Publish(ctx context.Context, status model.DaemonStatus) {
	if b == nil || b.client == nil {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		logrus.WithError(err).Warn("[STATUSBUS] failed to marshal status")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := b.client.B().Publish().Channel(b.channel).Message(string(payload)).Build()
	if err := b.client.Do(callCtx, cmd).Error(); err != nil {
		logrus.WithError(err).Warn("[STATUSBUS] publish failed")
	}
}

// Close releases the underlying valkey connection, if any.
func (b *Bus) Close() {
	if b == nil || b.client == nil {
		return
	}
	b.client.Close()
}
