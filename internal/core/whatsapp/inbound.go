package whatsapp

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MsgType classifies an inbound event's payload before media resolution.
type MsgType string

const (
	MsgText  MsgType = "text"
	MsgVoice MsgType = "voice"
	MsgImage MsgType = "image"
)

// InboundEvent is the common shape both provider adapters normalize into
// (spec §4.1).
type InboundEvent struct {
	Provider        string
	AgentSelector   string // meta: phone_number_id, wasender: agent id from the URL path
	UserPhone       string
	UserDisplayName string
	MsgType         MsgType
	Text            string
	MediaHandle     string
	MimeType        string
	MessageID       string
}

// --- Meta -------------------------------------------------------------

// MetaEnvelope is the standard Meta v22.0 messages webhook body.
type MetaEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"audio"`
					Image struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseMetaEnvelope extracts InboundEvents from entry[].changes[].value
// (spec §6). A single POST may carry multiple messages across multiple
// changes; all are returned.
func ParseMetaEnvelope(body []byte) ([]InboundEvent, error) {
	var env MetaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("whatsapp(meta): parse envelope: %w", err)
	}

	var events []InboundEvent
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			displayName := ""
			if len(v.Contacts) > 0 {
				displayName = v.Contacts[0].Profile.Name
			}
			for _, m := range v.Messages {
				ev := InboundEvent{
					Provider:        "meta",
					AgentSelector:   v.Metadata.PhoneNumberID,
					UserPhone:       m.From,
					UserDisplayName: displayName,
					MessageID:       m.ID,
				}
				switch m.Type {
				case "text":
					ev.MsgType = MsgText
					ev.Text = m.Text.Body
				case "audio":
					ev.MsgType = MsgVoice
					ev.MediaHandle = m.Audio.ID
					ev.MimeType = m.Audio.MimeType
				case "image":
					ev.MsgType = MsgImage
					ev.MediaHandle = m.Image.ID
					ev.MimeType = m.Image.MimeType
				default:
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

// --- WaSender -----------------------------------------------------------

// WaSenderEnvelope models the event shapes of interest: messages.received,
// messages.upsert, messages-personal.received (spec §6).
type WaSenderEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		Messages []WaSenderMessage `json:"messages"`
		Message  *WaSenderMessage  `json:"message"`
	} `json:"data"`
}

type WaSenderMessage struct {
	Key struct {
		FromMe        bool   `json:"fromMe"`
		RemoteJid     string `json:"remoteJid"`
		Participant   string `json:"participant"`
	} `json:"key"`
	CleanedSenderPn string `json:"cleanedSenderPn"`
	SenderPn        string `json:"senderPn"`
	PushName        string `json:"pushName"`
	Message         struct {
		Conversation string `json:"conversation"`
		AudioMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
		} `json:"audioMessage"`
		ImageMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
		} `json:"imageMessage"`
	} `json:"message"`
}

var phoneDigitsRe = regexp.MustCompile(`\D`)

// normalizePhone extracts only the digits and validates the length is in
// [10,15] per spec §4.1's discard rule; returns "" when invalid.
func normalizePhone(jid string) string {
	digits := phoneDigitsRe.ReplaceAllString(jid, "")
	if len(digits) < 10 || len(digits) > 15 {
		return ""
	}
	return digits
}

// VerifyWaSenderSignature does a constant-time compare of the configured
// webhook secret against the X-Webhook-Signature header (spec §6).
func VerifyWaSenderSignature(header, secret string) bool {
	if secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(secret)) == 1
}

// ParseWaSenderEnvelope normalizes a WaSender webhook body for one agent,
// discarding the cases spec §4.1 lists explicitly: outbound echoes
// (fromMe), group/broadcast/linked-device addresses, and phones outside
// [10,15] digits after normalization.
func ParseWaSenderEnvelope(agentID string, body []byte) ([]InboundEvent, error) {
	var env WaSenderEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("whatsapp(wasender): parse envelope: %w", err)
	}

	switch env.Event {
	case "messages.received", "messages.upsert", "messages-personal.received":
	default:
		return nil, nil
	}

	msgs := env.Data.Messages
	if env.Data.Message != nil {
		msgs = append(msgs, *env.Data.Message)
	}

	var events []InboundEvent
	for _, m := range msgs {
		if m.Key.FromMe {
			continue
		}
		if isGroupOrBroadcastOrLinkedDevice(m.Key.RemoteJid) {
			continue
		}

		raw := m.CleanedSenderPn
		if raw == "" {
			raw = m.SenderPn
		}
		if raw == "" {
			raw = m.Key.Participant
		}
		if raw == "" {
			raw = m.Key.RemoteJid
		}

		phone := normalizePhone(raw)
		if phone == "" {
			continue
		}

		ev := InboundEvent{
			Provider:        "wasender",
			AgentSelector:   agentID,
			UserPhone:       phone,
			UserDisplayName: m.PushName,
		}
		switch {
		case m.Message.Conversation != "":
			ev.MsgType = MsgText
			ev.Text = m.Message.Conversation
		case m.Message.AudioMessage != nil:
			ev.MsgType = MsgVoice
			ev.MediaHandle = m.Message.AudioMessage.URL
			ev.MimeType = m.Message.AudioMessage.Mimetype
		case m.Message.ImageMessage != nil:
			ev.MsgType = MsgImage
			ev.MediaHandle = m.Message.ImageMessage.URL
			ev.MimeType = m.Message.ImageMessage.Mimetype
		default:
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func isGroupOrBroadcastOrLinkedDevice(jid string) bool {
	return strings.Contains(jid, "@g.us") ||
		strings.Contains(jid, "broadcast") ||
		strings.Contains(jid, ":") // linked-device JIDs carry a ":<device>" suffix before @s.whatsapp.net
}
