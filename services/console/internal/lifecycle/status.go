package lifecycle

import (
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
)

// MapRemoteState maps a gateway connection state onto the local status.
// Unknown states map to disconnected.
func MapRemoteState(state string) domain.InstanceStatus {
	switch state {
	case "close":
		return domain.StatusDisconnected
	case "connecting":
		return domain.StatusCreating
	case "qr":
		return domain.StatusWaitingQR
	case "open":
		return domain.StatusConnected
	default:
		return domain.StatusDisconnected
	}
}

// IdleThreshold is how long a connected instance may stay silent before it
// is reported as a warning.
const IdleThreshold = 30 * time.Minute

// Health classifies one instance at now.
func Health(inst domain.Instance, now time.Time) domain.HealthStatus {
	if inst.Status != domain.StatusConnected {
		return domain.HealthUnhealthy
	}
	if inst.LastActivity != nil && now.Sub(*inst.LastActivity) > IdleThreshold {
		return domain.HealthWarning
	}
	return domain.HealthHealthy
}
