package lifecycle

import (
	"context"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

// ApplyConnectionUpdate maps a pushed gateway state onto the instance known
// by the technical name remote.
func (t *Tracker) ApplyConnectionUpdate(ctx context.Context, remote, state string) (domain.Instance, error) {
	inst, ok := t.app.State.FindByName(remote)
	if !ok {
		return domain.Instance{}, app.ErrInstanceNotFound
	}
	status := MapRemoteState(state)
	updated, err := t.app.State.UpdateInstance(ctx, inst.ID, func(i *domain.Instance) {
		i.Status = status
		if status != domain.StatusWaitingQR {
			i.QRCode = ""
		}
		i.Touch(t.app.Now())
	})
	if err != nil {
		return domain.Instance{}, err
	}
	if status == domain.StatusConnected && inst.Status != domain.StatusConnected {
		t.app.Notifications.Success(ctx, inst.ID, "Instance connected")
	}
	return updated, nil
}

// ApplyQRUpdate stores a QR payload pushed by the gateway.
func (t *Tracker) ApplyQRUpdate(ctx context.Context, remote string, qr evolution.QRCode) (domain.Instance, error) {
	inst, ok := t.app.State.FindByName(remote)
	if !ok {
		return domain.Instance{}, app.ErrInstanceNotFound
	}
	payload, err := QRPayload(qr)
	if err != nil {
		return domain.Instance{}, err
	}
	return t.app.State.UpdateInstance(ctx, inst.ID, func(i *domain.Instance) {
		i.QRCode = payload
		i.Status = domain.StatusWaitingQR
		i.Touch(t.app.Now())
	})
}
