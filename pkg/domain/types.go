package domain

import "time"

// InstanceStatus is the local lifecycle status of a gateway instance.
type InstanceStatus string

const (
	StatusDisconnected InstanceStatus = "disconnected"
	StatusCreating     InstanceStatus = "creating"
	StatusWaitingQR    InstanceStatus = "waiting_qr"
	StatusConnected    InstanceStatus = "connected"
	StatusError        InstanceStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s InstanceStatus) Valid() bool {
	switch s {
	case StatusDisconnected, StatusCreating, StatusWaitingQR, StatusConnected, StatusError:
		return true
	}
	return false
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthWarning   HealthStatus = "warning"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type Role string

const RoleAdmin Role = "admin"

// Instance is one managed WhatsApp gateway connection slot.
type Instance struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Created      time.Time        `json:"created"`
	Status       InstanceStatus   `json:"status"`
	QRCode       string           `json:"qrCode,omitempty"`
	WebhookURL   string           `json:"webhookUrl"`
	Token        string           `json:"token"`
	BusinessData *BusinessProfile `json:"businessData,omitempty"`
	LastActivity *time.Time       `json:"lastActivity,omitempty"`
	MessageCount int              `json:"messageCount"`
	Uptime       int64            `json:"uptime"`
	// RemoteName is the technical name the gateway knows the instance by.
	// Empty until a create call has been issued.
	RemoteName   string       `json:"evolutionInstanceName,omitempty"`
	ErrorCount   int          `json:"errorCount"`
	LastError    string       `json:"lastError,omitempty"`
	HealthStatus HealthStatus `json:"healthStatus,omitempty"`
}

// Touch sets LastActivity to t.
func (i *Instance) Touch(t time.Time) {
	t = t.UTC()
	i.LastActivity = &t
}

// Message is one sent or received WhatsApp message.
type Message struct {
	ID              string    `json:"id"`
	InstanceID      string    `json:"instanceId"`
	Type            Direction `json:"type"`
	Number          string    `json:"number"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	RemoteMessageID string    `json:"evolutionMessageId,omitempty"`
	Status          string    `json:"status"`
}

// Session is the logged-in operator.
type Session struct {
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	LoginTime time.Time `json:"loginTime"`
	SessionID string    `json:"sessionId"`
}

// ValidAt reports whether the session is still inside its window at now.
func (s Session) ValidAt(now time.Time, window time.Duration) bool {
	if s.LoginTime.IsZero() {
		return false
	}
	return now.Sub(s.LoginTime) < window
}
