// Package wire models the upstream MTProto wire records the Message Parser
// consumes (spec.md §4.2 / §9). The real wire format is dynamically typed —
// each object carries a string discriminator ("_": "messageEmpty", "_":
// "peerUser", ...) the way Telegram's TL schema serializes to JSON. Rather
// than importing the (out-of-scope, opaque) transport library's types
// directly, this package re-expresses that shape as an explicit Go sum type:
// a wire tag plus a typed variant, with an Unknown fallback that retains the
// raw payload for forensic replay — exactly the re-architecture spec.md §9
// calls for.
package wire

import (
	"encoding/json"
	"fmt"
)

// PeerKind discriminates the three peer shapes MTProto exposes. A prior bug
// in parsers that switch only on {user, channel} silently drops forwards
// from basic groups (PeerChat) — every peer-resolving switch in this module
// MUST handle all three.
type PeerKind string

const (
	PeerUser    PeerKind = "peerUser"
	PeerChat    PeerKind = "peerChat"
	PeerChannel PeerKind = "peerChannel"
)

// Peer is a resolved (kind, id) pair. AccessHash is only meaningful for
// PeerUser/PeerChannel; basic groups (PeerChat) have none.
type Peer struct {
	Kind       PeerKind
	ID         int64
	AccessHash int64
}

// BigInt is the canonical transport for numeric values that may exceed
// JavaScript/53-bit-safe-integer precision (access hashes, some message and
// user ids). It round-trips through the tagged-marker encoding in
// internal/replay without loss; within the wire package it is just an
// int64-backed value carrying its original decimal string so re-encoding is
// lossless even for values Go's own int64 could not represent verbatim from
// a float64 path.
type BigInt struct {
	Raw   string
	Value int64
}

// bigIntMarker is the tagged-marker shape BigInt serializes to outside of
// internal/replay's dehydrate walk — the same {"__tgcli_type": "bigint",
// "value": ...} shape spec.md §4.8's fixture contract uses, so the two
// paths never disagree on what a recorded bigint looks like on disk.
type bigIntMarker struct {
	Tag   string `json:"__tgcli_type"`
	Value string `json:"value"`
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	raw := b.Raw
	if raw == "" {
		raw = fmt.Sprintf("%d", b.Value)
	}
	return json.Marshal(bigIntMarker{Tag: "bigint", Value: raw})
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	// A bare number literal (what internal/replay's rehydrateJSON turns a
	// bigint marker back into) keeps its digits verbatim.
	if len(data) > 0 && data[0] != '{' {
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return err
		}
		b.Raw = num.String()
		if v, err := parseDecimalPrefix(b.Raw); err == nil {
			b.Value = v
		}
		return nil
	}
	var marker bigIntMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return err
	}
	b.Raw = marker.Value
	if v, err := parseDecimalPrefix(marker.Value); err == nil {
		b.Value = v
	}
	return nil
}

func parseDecimalPrefix(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

// ForwardHeader describes a forwarded message's originator peer, if any.
// The originator can be any of the three peer kinds; spec.md §4.2 requires
// resolving it across all three (the historical bug omitted PeerChat).
type ForwardHeader struct {
	From *Peer
}

// MediaKind enumerates the wire-level media union tags the parser maps to
// model.MessageType.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaPhoto    MediaKind = "messageMediaPhoto"
	MediaDocument MediaKind = "messageMediaDocument"
	MediaContact  MediaKind = "messageMediaContact"
	MediaGeo      MediaKind = "messageMediaGeo"
	MediaPoll     MediaKind = "messageMediaPoll"
	MediaWebpage  MediaKind = "messageMediaWebPage"
	MediaUnsupported MediaKind = "messageMediaUnsupported"
)

// DocumentSubKind further discriminates messageMediaDocument by its
// attributes union (voice vs video vs sticker vs plain document).
type DocumentSubKind string

const (
	DocVideo   DocumentSubKind = "video"
	DocAudio   DocumentSubKind = "audio"
	DocVoice   DocumentSubKind = "voice"
	DocSticker DocumentSubKind = "sticker"
	DocPlain   DocumentSubKind = "document"
)

// RawMessage is the dynamically-typed wire record for a single message, the
// JSON shape the opaque RemoteClient hands back from fetchHistory / push
// events. Tag == "messageEmpty" must be dropped by the parser without
// producing a row (spec.md §4.2).
type RawMessage struct {
	Tag           string          `json:"_"`
	ID            int64           `json:"id"`
	FromID        *Peer           `json:"from_id,omitempty"`
	PeerID        Peer            `json:"peer_id"`
	Out           bool            `json:"out"`
	Message       string          `json:"message"`
	Date          int64           `json:"date"`
	EditDate      int64           `json:"edit_date,omitempty"`
	ReplyToMsgID  int64           `json:"reply_to_msg_id,omitempty"`
	FwdFrom       *ForwardHeader  `json:"fwd_from,omitempty"`
	Media         *RawMedia       `json:"media,omitempty"`
	Pinned        bool            `json:"pinned,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// RawMedia is the wire-level media union payload.
type RawMedia struct {
	Tag         MediaKind       `json:"_"`
	DocumentSub DocumentSubKind `json:"document_sub,omitempty"`
}

// HistorySlice is the decoded response of a fetchHistory call: a batch of
// messages plus whether more history is available than what was returned.
type HistorySlice struct {
	Messages []RawMessage
	Count    int
	HasMore  bool
}
