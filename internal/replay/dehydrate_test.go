package replay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/wire"
)

// decodeNumberPreserving parses raw the same way load() effectively does
// for generic payloads — decimal digits intact, never routed through
// float64 — so bigint markers that survived rehydrateJSON can be
// compared exactly.
func decodeNumberPreserving(t *testing.T, raw json.RawMessage) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestDehydrateRoundTripPrimitive(t *testing.T) {
	raw, err := json.Marshal(dehydrate(map[string]any{"text": "hello", "count": 3, "ok": true}))
	require.NoError(t, err)
	rehydrated, err := rehydrateJSON(raw)
	require.NoError(t, err)

	m := decodeNumberPreserving(t, rehydrated).(map[string]any)
	assert.Equal(t, "hello", m["text"])
	assert.Equal(t, json.Number("3"), m["count"])
	assert.Equal(t, true, m["ok"])
}

func TestDehydrateRoundTripBigInteger(t *testing.T) {
	b := wire.BigInt{Raw: "9223372036854775000"}
	raw, err := json.Marshal(dehydrate(b))
	require.NoError(t, err)

	var marker map[string]any
	require.NoError(t, json.Unmarshal(raw, &marker))
	assert.Equal(t, markerBigInt, marker[markerTagKey])

	rehydrated, err := rehydrateJSON(raw)
	require.NoError(t, err)

	var back wire.BigInt
	require.NoError(t, json.Unmarshal(rehydrated, &back))
	assert.Equal(t, "9223372036854775000", back.Raw)
}

func TestDehydrateRoundTripBytes(t *testing.T) {
	blob := []byte{0x00, 0x01, 0xff, 0x42}
	raw, err := json.Marshal(dehydrate(blob))
	require.NoError(t, err)

	var marker map[string]any
	require.NoError(t, json.Unmarshal(raw, &marker))
	assert.Equal(t, markerBytes, marker[markerTagKey])
	assert.Equal(t, base64.StdEncoding.EncodeToString(blob), marker["value"])

	rehydrated, err := rehydrateJSON(raw)
	require.NoError(t, err)

	var back []byte
	require.NoError(t, json.Unmarshal(rehydrated, &back))
	assert.Equal(t, blob, back)
}

func TestDehydrateRoundTripDate(t *testing.T) {
	when := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(dehydrate(when))
	require.NoError(t, err)

	var marker map[string]any
	require.NoError(t, json.Unmarshal(raw, &marker))
	assert.Equal(t, markerDate, marker[markerTagKey])

	rehydrated, err := rehydrateJSON(raw)
	require.NoError(t, err)

	var back time.Time
	require.NoError(t, json.Unmarshal(rehydrated, &back))
	assert.True(t, when.Equal(back))
}

func TestDehydrateRoundTripNestedMapAndArray(t *testing.T) {
	nested := map[string]any{
		"peer": map[string]any{
			"id":          wire.BigInt{Raw: "100000000001"},
			"access_hash": wire.BigInt{Raw: "999999999999999999"},
		},
		"messages": []any{
			map[string]any{"id": 1, "text": "a"},
			map[string]any{"id": 2, "text": "b"},
		},
	}

	raw, err := json.Marshal(dehydrate(nested))
	require.NoError(t, err)

	rehydrated, err := rehydrateJSON(raw)
	require.NoError(t, err)

	out := decodeNumberPreserving(t, rehydrated).(map[string]any)

	peer := out["peer"].(map[string]any)
	assert.Equal(t, json.Number("100000000001"), peer["id"])
	assert.Equal(t, json.Number("999999999999999999"), peer["access_hash"])

	messages := out["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "a", first["text"])
}
