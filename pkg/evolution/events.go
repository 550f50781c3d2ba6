package evolution

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Webhook event kinds, normalized to the dotted lower-case form.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
)

var ErrUnexpectedEvent = errors.New("evolution: unexpected event payload")

// Event is the envelope the gateway posts to a registered webhook.
type Event struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
	DateTime string          `json:"date_time,omitempty"`
}

// Kind returns the event name in the dotted form. The gateway uses both
// MESSAGES_UPSERT and messages.upsert depending on version.
func (e Event) Kind() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(e.Event)), "_", ".")
}

// IncomingMessage is the text part of a messages.upsert event.
type IncomingMessage struct {
	ID        string
	Number    string
	Text      string
	PushName  string
	FromMe    bool
	Timestamp time.Time
}

type upsertData struct {
	Key              MessageKey `json:"key"`
	PushName         string     `json:"pushName"`
	MessageTimestamp int64      `json:"messageTimestamp"`
	Message          struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage struct {
			Caption string `json:"caption"`
		} `json:"imageMessage"`
	} `json:"message"`
}

// Message decodes a messages.upsert payload. ok is false when the message
// carries no text.
func (e Event) Message() (msg IncomingMessage, ok bool, err error) {
	if e.Kind() != EventMessagesUpsert {
		return IncomingMessage{}, false, ErrUnexpectedEvent
	}
	var data upsertData
	raw := e.Data
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		var list []upsertData
		if err := json.Unmarshal(raw, &list); err != nil {
			return IncomingMessage{}, false, err
		}
		if len(list) == 0 {
			return IncomingMessage{}, false, nil
		}
		data = list[0]
	} else if err := json.Unmarshal(raw, &data); err != nil {
		return IncomingMessage{}, false, err
	}
	text := data.Message.Conversation
	if text == "" {
		text = data.Message.ExtendedTextMessage.Text
	}
	if text == "" {
		text = data.Message.ImageMessage.Caption
	}
	msg = IncomingMessage{
		ID:       data.Key.ID,
		Number:   JIDNumber(data.Key.RemoteJID),
		Text:     text,
		PushName: data.PushName,
		FromMe:   data.Key.FromMe,
	}
	if data.MessageTimestamp > 0 {
		msg.Timestamp = time.Unix(data.MessageTimestamp, 0).UTC()
	}
	return msg, msg.Text != "" && msg.Number != "", nil
}

// ConnectionState decodes the state of a connection.update event.
func (e Event) ConnectionState() (string, error) {
	if e.Kind() != EventConnectionUpdate {
		return "", ErrUnexpectedEvent
	}
	var data struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return "", err
	}
	return data.State, nil
}

// QRCode decodes a qrcode.updated event.
func (e Event) QRCode() (QRCode, error) {
	if e.Kind() != EventQRCodeUpdated {
		return QRCode{}, ErrUnexpectedEvent
	}
	var data struct {
		QRCode QRCode `json:"qrcode"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return QRCode{}, err
	}
	return data.QRCode, nil
}

// JIDNumber strips the "@s.whatsapp.net" style suffix from a WhatsApp JID.
func JIDNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}
