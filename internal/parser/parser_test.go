package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/wire"
)

func TestParseDropsMessageEmpty(t *testing.T) {
	got := Parse(1, wire.RawMessage{Tag: "messageEmpty", ID: 5}, false)
	assert.Nil(t, got)
}

func TestParseBasicText(t *testing.T) {
	got := Parse(100, wire.RawMessage{
		Tag: "message", ID: 1, Message: "hi", Date: 1700000000,
		FromID: &wire.Peer{Kind: wire.PeerUser, ID: 42},
	}, false)
	require.NotNil(t, got)
	assert.Equal(t, model.MessageTypeText, got.MessageType)
	assert.Equal(t, "hi", got.Text)
	require.NotNil(t, got.FromID)
	assert.Equal(t, int64(42), *got.FromID)
}

func TestParseForwardFromPeerChatNotDropped(t *testing.T) {
	got := Parse(100, wire.RawMessage{
		Tag: "message", ID: 2, Message: "fwd", Date: 1700000000,
		FwdFrom: &wire.ForwardHeader{From: &wire.Peer{Kind: wire.PeerChat, ID: 999}},
	}, false)
	require.NotNil(t, got)
	require.NotNil(t, got.ForwardFromID, "forward from a basic group (PeerChat) must not be dropped")
	assert.Equal(t, int64(999), *got.ForwardFromID)
}

func TestParseForwardFromPeerChannel(t *testing.T) {
	got := Parse(100, wire.RawMessage{
		Tag: "message", ID: 3, Date: 1700000000,
		FwdFrom: &wire.ForwardHeader{From: &wire.Peer{Kind: wire.PeerChannel, ID: 555}},
	}, false)
	require.NotNil(t, got)
	require.NotNil(t, got.ForwardFromID)
	assert.Equal(t, int64(555), *got.ForwardFromID)
}

func TestParseMediaClassification(t *testing.T) {
	cases := []struct {
		media *wire.RawMedia
		want  model.MessageType
	}{
		{&wire.RawMedia{Tag: wire.MediaPhoto}, model.MessageTypePhoto},
		{&wire.RawMedia{Tag: wire.MediaDocument, DocumentSub: wire.DocVoice}, model.MessageTypeVoice},
		{&wire.RawMedia{Tag: wire.MediaDocument, DocumentSub: wire.DocSticker}, model.MessageTypeSticker},
		{&wire.RawMedia{Tag: wire.MediaDocument}, model.MessageTypeDocument},
		{&wire.RawMedia{Tag: wire.MediaContact}, model.MessageTypeContact},
		{&wire.RawMedia{Tag: wire.MediaUnsupported}, model.MessageTypeUnknown},
	}
	for _, tc := range cases {
		got := Parse(1, wire.RawMessage{Tag: "message", ID: 1, Date: 1700000000, Media: tc.media}, false)
		require.NotNil(t, got)
		assert.Equal(t, tc.want, got.MessageType)
	}
}

func TestParseEditedMessage(t *testing.T) {
	got := Parse(1, wire.RawMessage{Tag: "message", ID: 1, Date: 1700000000, EditDate: 1700000100}, false)
	require.NotNil(t, got)
	assert.True(t, got.IsEdited)
	require.NotNil(t, got.EditDate)
}

func TestParseServiceMessageNoTextNoMedia(t *testing.T) {
	got := Parse(1, wire.RawMessage{Tag: "messageService", ID: 1, Date: 1700000000}, false)
	require.NotNil(t, got)
	assert.Equal(t, model.MessageTypeService, got.MessageType)
}
