package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaEnvelope_TextMessage(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"phone_number_id": "1000"},
					"contacts": [{"profile": {"name": "Dana"}, "wa_id": "15550001111"}],
					"messages": [{"from": "15550001111", "id": "wamid.1", "type": "text", "text": {"body": "hello"}}]
				}
			}]
		}]
	}`)
	events, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "meta", ev.Provider)
	assert.Equal(t, "1000", ev.AgentSelector)
	assert.Equal(t, "15550001111", ev.UserPhone)
	assert.Equal(t, "Dana", ev.UserDisplayName)
	assert.Equal(t, MsgText, ev.MsgType)
	assert.Equal(t, "hello", ev.Text)
}

func TestParseMetaEnvelope_AudioMessage(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"phone_number_id": "1000"},
					"messages": [{"from": "15550001111", "id": "wamid.2", "type": "audio", "audio": {"id": "media-1", "mime_type": "audio/ogg"}}]
				}
			}]
		}]
	}`)
	events, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, MsgVoice, events[0].MsgType)
	assert.Equal(t, "media-1", events[0].MediaHandle)
	assert.Equal(t, "audio/ogg", events[0].MimeType)
}

func TestParseMetaEnvelope_UnknownTypeSkipped(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"phone_number_id": "1000"},
					"messages": [{"from": "1", "id": "x", "type": "sticker"}]
				}
			}]
		}]
	}`)
	events, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseMetaEnvelope_InvalidJSON(t *testing.T) {
	_, err := ParseMetaEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestParseWaSenderEnvelope_TextMessage(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {
			"messages": [{
				"key": {"fromMe": false, "remoteJid": "15550001111@s.whatsapp.net"},
				"pushName": "Dana",
				"message": {"conversation": "hi there"}
			}]
		}
	}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "wasender", ev.Provider)
	assert.Equal(t, "agent-1", ev.AgentSelector)
	assert.Equal(t, "15550001111", ev.UserPhone)
	assert.Equal(t, "Dana", ev.UserDisplayName)
	assert.Equal(t, MsgText, ev.MsgType)
	assert.Equal(t, "hi there", ev.Text)
}

func TestParseWaSenderEnvelope_DiscardsFromMeEcho(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {"messages": [{"key": {"fromMe": true, "remoteJid": "15550001111@s.whatsapp.net"}, "message": {"conversation": "echo"}}]}
	}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWaSenderEnvelope_DiscardsGroupJID(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {"messages": [{"key": {"fromMe": false, "remoteJid": "123456@g.us"}, "message": {"conversation": "group msg"}}]}
	}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWaSenderEnvelope_DiscardsLinkedDeviceJID(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {"messages": [{"key": {"fromMe": false, "remoteJid": "15550001111:5@s.whatsapp.net"}, "message": {"conversation": "hi"}}]}
	}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWaSenderEnvelope_DiscardsInvalidPhoneLength(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {"messages": [{"key": {"fromMe": false, "remoteJid": "12@s.whatsapp.net"}, "message": {"conversation": "hi"}}]}
	}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseWaSenderEnvelope_IgnoresUnknownEventType(t *testing.T) {
	body := []byte(`{"event": "presence.update", "data": {}}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestParseWaSenderEnvelope_SingleMessageShape(t *testing.T) {
	body := []byte(`{
		"event": "messages-personal.received",
		"data": {"message": {"key": {"fromMe": false, "remoteJid": "15550001111@s.whatsapp.net"}, "message": {"conversation": "solo"}}}
	}`)
	events, err := ParseWaSenderEnvelope("agent-1", body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "solo", events[0].Text)
}

func TestVerifyWaSenderSignature_EmptySecretAlwaysPasses(t *testing.T) {
	assert.True(t, VerifyWaSenderSignature("anything", ""))
	assert.True(t, VerifyWaSenderSignature("", ""))
}

func TestVerifyWaSenderSignature_MatchesExactly(t *testing.T) {
	assert.True(t, VerifyWaSenderSignature("secret123", "secret123"))
	assert.False(t, VerifyWaSenderSignature("wrong", "secret123"))
}
