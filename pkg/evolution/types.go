package evolution

import (
	"encoding/json"
	"strings"
)

type CreateResult struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		InstanceID   string `json:"instanceId"`
		Status       string `json:"status"`
	} `json:"instance"`
	Hash   json.RawMessage `json:"hash,omitempty"`
	QRCode *QRCode         `json:"qrcode,omitempty"`
}

// QRCode is a connect payload. Base64 is a PNG data URI or bare base64;
// Code is the raw string the PNG encodes.
type QRCode struct {
	PairingCode string `json:"pairingCode,omitempty"`
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// Empty reports whether the payload carries nothing scannable.
func (q QRCode) Empty() bool {
	return strings.TrimSpace(q.Base64) == "" && strings.TrimSpace(q.Code) == ""
}

type connectResponse struct {
	QRCode
	Nested *QRCode `json:"qrcode,omitempty"`
}

func (r connectResponse) payload() QRCode {
	if r.Nested != nil && !r.Nested.Empty() {
		return *r.Nested
	}
	return r.QRCode
}

type remoteInstanceBody struct {
	InstanceName string `json:"instanceName"`
	State        string `json:"state"`
	Status       string `json:"status"`
}

// RemoteInstance is one fetchInstances entry. Older gateways nest the data
// under "instance"; newer ones return flat objects.
type RemoteInstance struct {
	Instance         *remoteInstanceBody `json:"instance,omitempty"`
	Name             string              `json:"name,omitempty"`
	ConnectionStatus string              `json:"connectionStatus,omitempty"`
}

func (r RemoteInstance) InstanceName() string {
	if r.Instance != nil && r.Instance.InstanceName != "" {
		return r.Instance.InstanceName
	}
	return r.Name
}

// State returns the connection state: close, connecting, qr or open.
func (r RemoteInstance) State() string {
	if r.Instance != nil {
		if r.Instance.State != "" {
			return r.Instance.State
		}
		if r.Instance.Status != "" {
			return r.Instance.Status
		}
	}
	return r.ConnectionStatus
}

type MessageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid,omitempty"`
	FromMe    bool   `json:"fromMe"`
}

type SendResult struct {
	Key    MessageKey `json:"key"`
	Status string     `json:"status,omitempty"`
}

type MediaMessage struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Mimetype  string `json:"mimetype,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Media     string `json:"media"`
	FileName  string `json:"fileName,omitempty"`
}

type Profile struct {
	WUID       string `json:"wuid,omitempty"`
	Name       string `json:"name,omitempty"`
	PictureURL string `json:"picture,omitempty"`
	Status     string `json:"status,omitempty"`
	IsBusiness bool   `json:"isBusiness,omitempty"`
}

type NumberCheck struct {
	Exists bool   `json:"exists"`
	JID    string `json:"jid"`
	Number string `json:"number"`
}

type ConnectionTest struct {
	Status    string     `json:"status"`
	Instances int        `json:"instances,omitempty"`
	Message   string     `json:"message,omitempty"`
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
}
