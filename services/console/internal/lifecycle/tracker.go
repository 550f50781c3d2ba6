// Package lifecycle drives instance status transitions against the gateway.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

const tokenLength = 32

type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	WebhookURL  string `json:"webhookUrl"`
	Token       string `json:"token"`
}

// EditRequest changes the editable fields. Nil fields are left alone.
type EditRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	WebhookURL  *string `json:"webhookUrl"`
}

type RefreshResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type HealthReport struct {
	Healthy int `json:"healthy"`
	Total   int `json:"total"`
}

type DeleteResult struct {
	RemoteDeleted bool `json:"remoteDeleted"`
	RemoteSkipped bool `json:"remoteSkipped"`
}

// Tracker owns the instance lifecycle.
type Tracker struct {
	app   *app.App
	retry RetryPolicy
}

func New(a *app.App, retry RetryPolicy) *Tracker {
	return &Tracker{app: a, retry: retry.normalized()}
}

// Create validates the request, stores the instance and registers it with
// the gateway. A gateway failure leaves the instance in error status and is
// not returned as an error.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (domain.Instance, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Instance{}, app.ErrNameRequired
	}
	if t.app.State.NameTaken(name, "") {
		return domain.Instance{}, app.ErrDuplicateName
	}
	webhookURL := strings.TrimSpace(req.WebhookURL)
	if webhookURL != "" && !domain.IsValidURL(webhookURL) {
		return domain.Instance{}, app.ErrInvalidWebhookURL
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = util.NewToken(tokenLength)
	}
	id := util.NewPrefixedID("inst")
	remote := domain.SanitizeName(name)
	if remote == "" {
		remote = id
	}
	inst := domain.Instance{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Created:     t.app.Now().UTC(),
		Status:      domain.StatusDisconnected,
		WebhookURL:  webhookURL,
		Token:       token,
		RemoteName:  remote,
	}
	if err := t.app.State.AddInstance(ctx, inst); err != nil {
		return domain.Instance{}, err
	}
	t.app.Notifications.Success(ctx, id, "Instance created")

	if _, err := t.setStatus(ctx, id, domain.StatusCreating); err != nil {
		return domain.Instance{}, err
	}
	if _, err := t.app.Gateway.CreateInstance(ctx, remote); err != nil {
		return t.fail(ctx, id, "create", err)
	}
	if _, err := t.setStatus(ctx, id, domain.StatusWaitingQR); err != nil {
		return domain.Instance{}, err
	}
	if webhookURL != "" {
		t.registerWebhook(ctx, id, remote, webhookURL)
	}
	return t.fetchQR(ctx, id)
}

// RefreshQR re-runs the QR step for an existing instance.
func (t *Tracker) RefreshQR(ctx context.Context, id string) (domain.Instance, error) {
	inst, ok := t.app.State.Instance(id)
	if !ok {
		return domain.Instance{}, app.ErrInstanceNotFound
	}
	if inst.RemoteName == "" {
		return domain.Instance{}, app.ErrNoRemoteInstance
	}
	return t.fetchQR(ctx, id)
}

func (t *Tracker) fetchQR(ctx context.Context, id string) (domain.Instance, error) {
	inst, ok := t.app.State.Instance(id)
	if !ok {
		return domain.Instance{}, app.ErrInstanceNotFound
	}
	logger := util.LoggerFromContext(ctx).With("instance_id", id)
	st := t.retry.runQR(ctx, func(ctx context.Context) (evolution.QRCode, error) {
		return t.app.Gateway.Connect(ctx, inst.RemoteName)
	})
	logger.Debug("qr step finished", "phase", st.phase.String(), "attempts", st.attempt)

	switch st.phase {
	case qrDone:
		payload, err := QRPayload(st.payload)
		if err != nil {
			return t.fail(ctx, id, "qr", err)
		}
		return t.app.State.UpdateInstance(ctx, id, func(i *domain.Instance) {
			i.QRCode = payload
			i.Status = domain.StatusWaitingQR
			i.Touch(t.app.Now())
		})
	case qrExhausted:
		logger.Warn("qr code not received", "attempts", st.attempt)
		t.app.Notifications.Warning(ctx, id, "QR code not received from the gateway, try again")
		current, _ := t.app.State.Instance(id)
		return current, nil
	default:
		return t.fail(ctx, id, "qr", st.err)
	}
}

// RefreshAll maps the gateway state of every associated instance onto the
// local status. Instances in error status are skipped; an instance the
// gateway no longer knows is tolerated silently.
func (t *Tracker) RefreshAll(ctx context.Context) RefreshResult {
	var res RefreshResult
	logger := util.LoggerFromContext(ctx)
	for _, inst := range t.app.State.Instances() {
		if inst.RemoteName == "" {
			continue
		}
		if inst.Status == domain.StatusError {
			res.Skipped++
			continue
		}
		res.Checked++
		state, found, err := t.app.Gateway.InstanceState(ctx, inst.RemoteName)
		if err != nil {
			if evolution.IsNotFound(err) {
				continue
			}
			res.Failed++
			logger.Warn("status refresh failed", "instance_id", inst.ID, "problem", evolution.Diagnose(err).Problem, "err", err)
			_, _ = t.app.State.UpdateInstance(ctx, inst.ID, func(i *domain.Instance) {
				i.ErrorCount++
				i.LastError = err.Error()
			})
			continue
		}
		if !found {
			continue
		}
		status := MapRemoteState(state)
		if _, err := t.app.State.UpdateInstance(ctx, inst.ID, func(i *domain.Instance) {
			i.Status = status
			if status != domain.StatusWaitingQR {
				i.QRCode = ""
			}
			i.Touch(t.app.Now())
		}); err != nil {
			res.Failed++
			logger.Warn("persist refreshed status failed", "instance_id", inst.ID, "err", err)
			continue
		}
		res.Updated++
	}
	return res
}

// Delete removes the instance from the gateway when possible and always
// removes it locally together with its messages.
func (t *Tracker) Delete(ctx context.Context, id string) (DeleteResult, error) {
	inst, ok := t.app.State.Instance(id)
	if !ok {
		return DeleteResult{}, app.ErrInstanceNotFound
	}
	var res DeleteResult
	logger := util.LoggerFromContext(ctx).With("instance_id", id)
	if inst.RemoteName != "" {
		switch {
		case !t.app.Gateway.Probe(ctx):
			res.RemoteSkipped = true
			logger.Warn("gateway offline, skipping remote delete")
		default:
			err := t.app.Gateway.DeleteInstance(ctx, inst.RemoteName)
			switch {
			case err == nil:
				res.RemoteDeleted = true
			case evolution.IsNotFound(err):
				logger.Info("instance already gone from gateway")
			default:
				logger.Warn("remote delete failed", "problem", evolution.Diagnose(err).Problem, "err", err)
			}
		}
	}
	if err := t.app.State.RemoveInstance(ctx, id); err != nil {
		return res, err
	}
	t.app.Notifications.Success(ctx, id, "Instance deleted")
	return res, nil
}

// Update edits name, description and webhook URL.
func (t *Tracker) Update(ctx context.Context, id string, req EditRequest) (domain.Instance, error) {
	inst, ok := t.app.State.Instance(id)
	if !ok {
		return domain.Instance{}, app.ErrInstanceNotFound
	}
	name := inst.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Instance{}, app.ErrNameRequired
		}
		if t.app.State.NameTaken(name, id) {
			return domain.Instance{}, app.ErrDuplicateName
		}
	}
	webhookURL := inst.WebhookURL
	if req.WebhookURL != nil {
		webhookURL = strings.TrimSpace(*req.WebhookURL)
		if webhookURL != "" && !domain.IsValidURL(webhookURL) {
			return domain.Instance{}, app.ErrInvalidWebhookURL
		}
	}
	updated, err := t.app.State.UpdateInstance(ctx, id, func(i *domain.Instance) {
		i.Name = name
		if req.Description != nil {
			i.Description = strings.TrimSpace(*req.Description)
		}
		i.WebhookURL = webhookURL
		i.Touch(t.app.Now())
	})
	if err != nil {
		return domain.Instance{}, err
	}
	if webhookURL != "" && webhookURL != inst.WebhookURL && inst.RemoteName != "" {
		t.registerWebhook(ctx, id, inst.RemoteName, webhookURL)
	}
	return updated, nil
}

func (t *Tracker) Restart(ctx context.Context, id string) (domain.Instance, error) {
	inst, err := t.remoteInstance(id)
	if err != nil {
		return domain.Instance{}, err
	}
	if err := t.app.Gateway.RestartInstance(ctx, inst.RemoteName); err != nil {
		return domain.Instance{}, fmt.Errorf("restart instance: %w", err)
	}
	return t.setStatus(ctx, id, domain.StatusCreating)
}

// Logout disconnects the WhatsApp session and clears the QR payload.
func (t *Tracker) Logout(ctx context.Context, id string) (domain.Instance, error) {
	inst, err := t.remoteInstance(id)
	if err != nil {
		return domain.Instance{}, err
	}
	if err := t.app.Gateway.Logout(ctx, inst.RemoteName); err != nil && !evolution.IsNotFound(err) {
		return domain.Instance{}, fmt.Errorf("logout instance: %w", err)
	}
	return t.app.State.UpdateInstance(ctx, id, func(i *domain.Instance) {
		i.Status = domain.StatusDisconnected
		i.QRCode = ""
		i.Touch(t.app.Now())
	})
}

// CheckHealth classifies every instance and persists the result.
func (t *Tracker) CheckHealth(ctx context.Context) (HealthReport, error) {
	now := t.app.Now()
	instances := t.app.State.Instances()
	report := HealthReport{Total: len(instances)}
	for _, inst := range instances {
		health := Health(inst, now)
		if health == domain.HealthHealthy {
			report.Healthy++
		}
		if inst.HealthStatus == health {
			continue
		}
		if _, err := t.app.State.UpdateInstance(ctx, inst.ID, func(i *domain.Instance) {
			i.HealthStatus = health
		}); err != nil && !errors.Is(err, app.ErrInstanceNotFound) {
			return report, err
		}
	}
	return report, nil
}

// WaitingForQR lists instances whose QR code should be refreshed.
func (t *Tracker) WaitingForQR() []domain.Instance {
	return t.app.State.Filter(domain.StatusWaitingQR, "")
}

func (t *Tracker) remoteInstance(id string) (domain.Instance, error) {
	inst, ok := t.app.State.Instance(id)
	if !ok {
		return domain.Instance{}, app.ErrInstanceNotFound
	}
	if inst.RemoteName == "" {
		return domain.Instance{}, app.ErrNoRemoteInstance
	}
	return inst, nil
}

func (t *Tracker) setStatus(ctx context.Context, id string, status domain.InstanceStatus) (domain.Instance, error) {
	return t.app.State.UpdateInstance(ctx, id, func(i *domain.Instance) {
		i.Status = status
		i.Touch(t.app.Now())
	})
}

// fail moves the instance to error status and records the diagnosis.
func (t *Tracker) fail(ctx context.Context, id, step string, cause error) (domain.Instance, error) {
	d := evolution.Diagnose(cause)
	util.LoggerFromContext(ctx).Warn("instance step failed",
		"instance_id", id, "step", step, "problem", d.Problem, "err", cause)
	inst, err := t.app.State.UpdateInstance(ctx, id, func(i *domain.Instance) {
		i.Status = domain.StatusError
		i.ErrorCount++
		i.LastError = d.Problem + ": " + cause.Error()
		i.Touch(t.app.Now())
	})
	if err != nil {
		return domain.Instance{}, err
	}
	t.app.Notifications.Error(ctx, id, "Gateway error: "+d.Solution)
	return inst, nil
}

func (t *Tracker) registerWebhook(ctx context.Context, id, remote, url string) {
	if err := t.app.Gateway.SetWebhook(ctx, remote, url); err != nil {
		util.LoggerFromContext(ctx).Warn("register webhook failed", "instance_id", id, "problem", evolution.Diagnose(err).Problem, "err", err)
	}
}
