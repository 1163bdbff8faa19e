// Package replay is the Record/Replay Harness (spec.md §4.8): a
// transparent remote.Client decorator that can record real upstream
// responses to disk as fixtures, or replay previously recorded fixtures
// instead of making any network call. This is what makes the daemon's
// integration tests deterministic and offline.
package replay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/wire"
)

// fixtureSchemaVersion guards against a future fixture format change being
// silently misread by an older replay harness (spec.md §4.8).
const fixtureSchemaVersion = 1

// Mode selects the harness's behavior.
type Mode int

const (
	// Off passes every call straight through to the wrapped client.
	Off Mode = iota
	// Record calls through and persists the response as a fixture.
	Record
	// Replay serves fixtures only; a cache miss is an error, never a live call.
	Replay
)

// fixture is the on-disk shape of one recorded call/response pair
// (spec.md §4.8). RecordedAt is diagnostic only; Method is also hashed
// into the fixture key (see fixtureKey). Both let a human skimming the
// fixtures tree tell what a file is without opening the Request payload.
type fixture struct {
	SchemaVersion int             `json:"schemaVersion"`
	Method        string          `json:"method"`
	RecordedAt    string          `json:"recordedAt"`
	Request       json.RawMessage `json:"request"`
	Response      json.RawMessage `json:"response"`
}

// Client decorates a remote.Client with record/replay behavior, keyed by
// spec.md §4.8's fixture key: sha256(canonicalJSON({request, callOptions})).
type Client struct {
	inner      remote.Client
	mode       Mode
	fixtureDir string
	accountID  string
}

// New builds a replay-aware client wrapping inner. fixtureDir is the root
// fixtures directory (config.FixturesDir); accountID partitions fixtures
// per account the way spec.md §6 lays out fixtures/telegram/account-<id>/.
func New(inner remote.Client, mode Mode, fixtureDir, accountID string) *Client {
	return &Client{inner: inner, mode: mode, fixtureDir: fixtureDir, accountID: accountID}
}

func (c *Client) Call(ctx context.Context, call remote.Call) (any, error) {
	key, err := fixtureKey(call.Options.Method, call)
	if err != nil {
		return nil, fmt.Errorf("replay: compute fixture key: %w", err)
	}
	path := c.fixturePath(call.Options.Method, key)

	if c.mode == Replay {
		var resp any
		if err := c.load(path, &resp); err != nil {
			return nil, fmt.Errorf("replay: no fixture for %s: %w", call.Options.Method, err)
		}
		return resp, nil
	}

	resp, err := c.inner.Call(ctx, call)
	if c.mode == Record && err == nil {
		if saveErr := c.save(path, call.Options.Method, call, resp); saveErr != nil {
			return resp, fmt.Errorf("replay: save fixture: %w", saveErr)
		}
	}
	return resp, err
}

func (c *Client) FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error) {
	const method = "messages.getHistory"
	key, err := fixtureKey(method, req)
	if err != nil {
		return nil, fmt.Errorf("replay: compute fixture key: %w", err)
	}
	path := c.fixturePath(method, key)

	if c.mode == Replay {
		var slice wire.HistorySlice
		if err := c.load(path, &slice); err != nil {
			return nil, fmt.Errorf("replay: no fixture for %s: %w", method, err)
		}
		return &slice, nil
	}

	slice, err := c.inner.FetchHistory(ctx, req)
	if c.mode == Record && err == nil {
		if saveErr := c.save(path, method, req, slice); saveErr != nil {
			return slice, fmt.Errorf("replay: save fixture: %w", saveErr)
		}
	}
	return slice, err
}

func (c *Client) Self(ctx context.Context) (int64, error)  { return c.inner.Self(ctx) }
func (c *Client) Connect(ctx context.Context) error         { return c.inner.Connect(ctx) }
func (c *Client) Disconnect(ctx context.Context) error      { return c.inner.Disconnect(ctx) }
func (c *Client) IsConnected() bool                         { return c.inner.IsConnected() }
func (c *Client) Updates() <-chan remote.Update             { return c.inner.Updates() }

func (c *Client) fixturePath(method, key string) string {
	return filepath.Join(c.fixtureDir, "account-"+c.accountID, method, key+".json")
}

// fixtureKey computes sha256(canonicalJSON({method, request})) over the
// method name and the dehydrated request payload (spec.md §4.8): canonical
// JSON means map keys sorted so
// the same logical request always hashes identically regardless of
// field-population order.
func fixtureKey(method string, request any) (string, error) {
	dehydrated := dehydrate(request)
	canonical, err := canonicalJSON(map[string]any{"method": method, "request": dehydrated})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-marshals v with map keys sorted at every level, so
// semantically identical requests always serialize byte-identically.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		return append(buf, ']'), nil
	default:
		return json.Marshal(val)
	}
}

func (c *Client) load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("unmarshal fixture: %w", err)
	}
	if f.SchemaVersion != fixtureSchemaVersion {
		return fmt.Errorf("fixture %s: unsupported schema version %d", path, f.SchemaVersion)
	}
	rehydrated, err := rehydrateJSON(f.Response)
	if err != nil {
		return fmt.Errorf("rehydrate fixture: %w", err)
	}
	// UseNumber keeps rehydrated big integers as their exact digits when out
	// holds generic values, instead of rounding them through float64.
	dec := json.NewDecoder(bytes.NewReader(rehydrated))
	dec.UseNumber()
	return dec.Decode(out)
}

// save writes a fixture atomically: write to a temp file in the same
// directory, then rename, so a crash mid-write never leaves a corrupt
// fixture a later replay run could read.
func (c *Client) save(path, method string, request, response any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir fixture dir: %w", err)
	}

	reqJSON, err := json.Marshal(dehydrate(request))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	respJSON, err := json.Marshal(dehydrate(response))
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	f := fixture{
		SchemaVersion: fixtureSchemaVersion,
		Method:        method,
		RecordedAt:    time.Now().UTC().Format(time.RFC3339),
		Request:       reqJSON,
		Response:      respJSON,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fixture-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp fixture: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp fixture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp fixture: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp fixture: %w", err)
	}
	return nil
}
