// Package ratelimit is the Rate-Limit Service (spec.md §4.1): a transparent
// wrapper around a remote.Client that enforces per-method fixed-window call
// budgets (calls are counted per window_start bucket) and cooperative flood-wait cooldowns before every call, and logs every
// attempt to api_activity regardless of outcome.
package ratelimit

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/wire"
	"github.com/telegram-cli/telegram-cli/pkg/tgerr"
)

// MethodLimit configures the fixed-window budget for one upstream method.
type MethodLimit struct {
	WindowSeconds int64
	MaxCalls      int
}

// DefaultLimits mirrors the conservative per-method budgets the spec
// describes for history fetches vs. lighter metadata calls (spec.md §4.1).
var DefaultLimits = map[string]MethodLimit{
	"messages.getHistory":  {WindowSeconds: 60, MaxCalls: 30},
	"messages.getDialogs":  {WindowSeconds: 60, MaxCalls: 10},
	"contacts.resolveUsername": {WindowSeconds: 60, MaxCalls: 20},
	"users.getFullUser":    {WindowSeconds: 60, MaxCalls: 20},
}

const defaultLimitWindowSeconds = 60
const defaultLimitMaxCalls = 20

var floodWaitPattern = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)

// Service wraps a remote.Client, transparently enforcing rate limits and
// logging activity. Workers and the Account Supervisor call through
// Service.Call/Service.FetchHistory instead of the raw client.
type Service struct {
	client  remote.Client
	store   *store.Store
	limits  map[string]MethodLimit
	clock   func() time.Time
}

// New builds a Service around client, backed by s for window/flood-wait
// persistence (spec.md §4.1 is itself stateless between calls: state lives
// in the store so limits survive a restart).
func New(client remote.Client, s *store.Store) *Service {
	return &Service{client: client, store: s, limits: DefaultLimits, clock: time.Now}
}

func (svc *Service) limitFor(method string) MethodLimit {
	if l, ok := svc.limits[method]; ok {
		return l
	}
	return MethodLimit{WindowSeconds: defaultLimitWindowSeconds, MaxCalls: defaultLimitMaxCalls}
}

// checkBlocked returns a non-nil *tgerr.RateLimitError if method is
// currently blocked by an outstanding flood-wait or has exhausted its
// current fixed window (spec.md §4.1 step 1/2).
func (svc *Service) checkBlocked(method string) (*tgerr.RateLimitError, error) {
	until, err := svc.store.GetFloodWaitUntil(method)
	if err != nil {
		return nil, err
	}
	now := svc.clock()
	if until.After(now) {
		return &tgerr.RateLimitError{Method: method, WaitSeconds: int(until.Sub(now).Seconds()) + 1}, nil
	}

	limit := svc.limitFor(method)
	count, err := svc.store.CallCountInWindow(method, limit.WindowSeconds)
	if err != nil {
		return nil, err
	}
	if count >= limit.MaxCalls {
		return &tgerr.RateLimitError{Method: method, WaitSeconds: int(limit.WindowSeconds)}, nil
	}
	return nil, nil
}

// Call issues call.Request through the wrapped client, enforcing limits and
// recording the outcome (spec.md §4.1 steps 1-6).
func (svc *Service) Call(ctx context.Context, call remote.Call) (any, error) {
	if rle, err := svc.checkBlocked(call.Options.Method); err != nil {
		return nil, err
	} else if rle != nil {
		return nil, rle
	}

	start := svc.clock()
	resp, callErr := svc.client.Call(ctx, call)
	elapsedMs := svc.clock().Sub(start).Milliseconds()

	if waitSecs, isFlood := detectFloodWait(callErr); isFlood {
		until := svc.clock().Add(time.Duration(waitSecs) * time.Second)
		limit := svc.limitFor(call.Options.Method)
		if err := svc.store.SetFloodWait(call.Options.Method, until, limit.WindowSeconds); err != nil {
			logrus.WithError(err).Warn("[RATELIMIT] failed to persist flood wait")
		}
		svc.logActivity(call.Options.Method, false, "FLOOD_WAIT", elapsedMs)
		return nil, &tgerr.RateLimitError{Method: call.Options.Method, WaitSeconds: waitSecs}
	}

	limit := svc.limitFor(call.Options.Method)
	if err := svc.store.RecordCall(call.Options.Method, limit.WindowSeconds); err != nil {
		logrus.WithError(err).Warn("[RATELIMIT] failed to record call")
	}

	if callErr != nil {
		svc.logActivity(call.Options.Method, false, "ERROR", elapsedMs)
		return nil, callErr
	}
	svc.logActivity(call.Options.Method, true, "", elapsedMs)
	return resp, nil
}

// FetchHistory is the History fetch path the Sync Worker uses, wrapped the
// same way as Call (spec.md §4.5 step 5 goes through the rate limiter too).
func (svc *Service) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	const method = "messages.getHistory"
	if rle, err := svc.checkBlocked(method); err != nil {
		return nil, err
	} else if rle != nil {
		return nil, rle
	}

	start := svc.clock()
	slice, callErr := svc.client.FetchHistory(ctx, req)
	elapsedMs := svc.clock().Sub(start).Milliseconds()

	if waitSecs, isFlood := detectFloodWait(callErr); isFlood {
		until := svc.clock().Add(time.Duration(waitSecs) * time.Second)
		if err := svc.store.SetFloodWait(method, until, svc.limitFor(method).WindowSeconds); err != nil {
			logrus.WithError(err).Warn("[RATELIMIT] failed to persist flood wait")
		}
		svc.logActivity(method, false, "FLOOD_WAIT", elapsedMs)
		return nil, &tgerr.RateLimitError{Method: method, WaitSeconds: waitSecs}
	}

	if err := svc.store.RecordCall(method, svc.limitFor(method).WindowSeconds); err != nil {
		logrus.WithError(err).Warn("[RATELIMIT] failed to record call")
	}

	if callErr != nil {
		svc.logActivity(method, false, "ERROR", elapsedMs)
		return nil, fmt.Errorf("fetch history: %w", callErr)
	}
	svc.logActivity(method, true, "", elapsedMs)
	return slice, nil
}

func (svc *Service) logActivity(method string, success bool, errCode string, elapsedMs int64) {
	entry := model.ActivityEntry{Method: method, Success: success, ResponseMs: &elapsedMs}
	if errCode != "" {
		entry.ErrorCode = &errCode
	}
	if err := svc.store.LogActivity(entry); err != nil {
		logrus.WithError(err).Warn("[RATELIMIT] failed to log activity")
	}
}

// detectFloodWait recognizes both the typed *remote.FloodWait shape and the
// legacy embedded "FLOOD_WAIT_<N>" string some transports surface (spec.md
// §4.1).
func detectFloodWait(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	if fw, ok := err.(*remote.FloodWait); ok {
		return fw.Seconds, true
	}
	if m := floodWaitPattern.FindStringSubmatch(err.Error()); m != nil {
		secs, parseErr := strconv.Atoi(m[1])
		if parseErr == nil {
			return secs, true
		}
	}
	return 0, false
}
