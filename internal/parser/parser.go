// Package parser is the Message Parser (spec.md §4.2): it normalizes the
// dynamically-typed wire.RawMessage records the opaque RemoteClient returns
// into model.Message rows, resolving peers across all three MTProto peer
// kinds so forwards from basic groups are never silently dropped.
package parser

import (
	"encoding/json"
	"time"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/wire"
)

const emptyMessageTag = "messageEmpty"

// Parse converts one wire message into a model.Message for chatID, or nil
// if the message should be dropped (spec.md §4.2 step 1: messageEmpty
// records carry no content and must not produce a row).
func Parse(chatID int64, raw wire.RawMessage, isOutgoing bool) *model.Message {
	if raw.Tag == emptyMessageTag {
		return nil
	}

	m := &model.Message{
		ChatID:      chatID,
		MessageID:   raw.ID,
		Text:        raw.Message,
		IsOutgoing:  isOutgoing || raw.Out,
		IsPinned:    raw.Pinned,
		Date:        time.Unix(raw.Date, 0).UTC(),
		MessageType: classify(raw),
		HasMedia:    raw.Media != nil,
		FetchedAt:   time.Now().UTC(),
	}

	if raw.FromID != nil {
		id := resolvePeerID(*raw.FromID)
		m.FromID = &id
	}
	if raw.ReplyToMsgID != 0 {
		id := raw.ReplyToMsgID
		m.ReplyToID = &id
	}
	if raw.FwdFrom != nil && raw.FwdFrom.From != nil {
		// Forward originator resolution must handle all three peer kinds
		// (spec.md §4.2/§9): a switch that only matches PeerUser/PeerChannel
		// silently drops forwards originating from a basic group.
		id := resolvePeerID(*raw.FwdFrom.From)
		m.ForwardFromID = &id
	}
	if raw.EditDate != 0 {
		t := time.Unix(raw.EditDate, 0).UTC()
		m.EditDate = &t
		m.IsEdited = true
	}

	if rawJSON, err := json.Marshal(raw); err == nil {
		m.RawJSON = string(rawJSON)
	}

	return m
}

// resolvePeerID extracts the numeric id regardless of peer kind. All three
// kinds (PeerUser, PeerChat, PeerChannel) carry a plain ID; only the sign
// convention for chat/channel ids used elsewhere (InputPeer construction)
// differs, which is the Sync Worker's concern, not the parser's.
func resolvePeerID(p wire.Peer) int64 {
	return p.ID
}

// classify maps the wire-level media/message shape onto model.MessageType
// (spec.md §3/§4.2).
func classify(raw wire.RawMessage) model.MessageType {
	if raw.Media == nil {
		if raw.Message == "" {
			return model.MessageTypeService
		}
		return model.MessageTypeText
	}

	switch raw.Media.Tag {
	case wire.MediaPhoto:
		return model.MessageTypePhoto
	case wire.MediaContact:
		return model.MessageTypeContact
	case wire.MediaGeo:
		return model.MessageTypeLocation
	case wire.MediaPoll:
		return model.MessageTypePoll
	case wire.MediaWebpage:
		return model.MessageTypeWebpage
	case wire.MediaDocument:
		switch raw.Media.DocumentSub {
		case wire.DocVideo:
			return model.MessageTypeVideo
		case wire.DocAudio:
			return model.MessageTypeAudio
		case wire.DocVoice:
			return model.MessageTypeVoice
		case wire.DocSticker:
			return model.MessageTypeSticker
		default:
			return model.MessageTypeDocument
		}
	default:
		return model.MessageTypeUnknown
	}
}
