// Package business stores the business profile of an instance and forwards
// it to the instance webhook.
package business

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/webhook"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

const testMessage = "Teste de webhook do Evolution API Manager"

type Service struct {
	app *app.App
}

func NewService(a *app.App) *Service {
	return &Service{app: a}
}

// Delivery is the outcome of a webhook post.
type Delivery struct {
	Attempted bool   `json:"attempted"`
	Delivered bool   `json:"delivered"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SaveResult struct {
	Instance domain.Instance `json:"instance"`
	Warnings []string        `json:"warnings,omitempty"`
	Webhook  Delivery        `json:"webhook"`
}

// Apply normalizes, validates and stores the profile without forwarding it.
func (s *Service) Apply(ctx context.Context, instanceID string, profile domain.BusinessProfile) (domain.Instance, []string, error) {
	if _, ok := s.app.State.Instance(instanceID); !ok {
		return domain.Instance{}, nil, app.ErrInstanceNotFound
	}
	profile.Normalize()
	warnings, err := profile.Validate()
	if err != nil {
		return domain.Instance{}, nil, err
	}
	profile.InstanceID = instanceID
	if profile.Timestamp.IsZero() {
		profile.Timestamp = s.app.Now().UTC()
	}
	inst, err := s.app.State.UpdateInstance(ctx, instanceID, func(i *domain.Instance) {
		p := profile
		i.BusinessData = &p
		i.Touch(s.app.Now())
	})
	if err != nil {
		return domain.Instance{}, nil, err
	}
	return inst, warnings, nil
}

// Save stores the profile and posts it to the instance webhook when one is
// configured. A failed delivery is reported, not returned as an error.
func (s *Service) Save(ctx context.Context, instanceID string, profile domain.BusinessProfile) (SaveResult, error) {
	profile.Timestamp = s.app.Now().UTC()
	inst, warnings, err := s.Apply(ctx, instanceID, profile)
	if err != nil {
		return SaveResult{}, err
	}
	s.app.Notifications.Success(ctx, instanceID, "Business configuration saved")
	res := SaveResult{Instance: inst, Warnings: warnings}
	if inst.WebhookURL == "" {
		return res, nil
	}
	res.Webhook = s.deliver(ctx, inst.ID, inst.WebhookURL, webhook.KindBusinessConfig, inst.BusinessData)
	if res.Webhook.Delivered {
		s.app.Notifications.Success(ctx, instanceID, "Business configuration sent to webhook")
	} else {
		s.app.Notifications.Warning(ctx, instanceID, "Webhook delivery failed: "+res.Webhook.Error)
	}
	return res, nil
}

type testPayload struct {
	Type         string    `json:"type"`
	InstanceID   string    `json:"instanceId"`
	InstanceName string    `json:"instanceName"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	Version      string    `json:"version"`
}

// TestWebhook posts a test payload to target. On success the URL is saved on
// the instance and registered with the gateway.
func (s *Service) TestWebhook(ctx context.Context, instanceID, target string) (Delivery, error) {
	inst, ok := s.app.State.Instance(instanceID)
	if !ok {
		return Delivery{}, app.ErrInstanceNotFound
	}
	target = strings.TrimSpace(target)
	if target == "" || !domain.IsValidURL(target) {
		return Delivery{}, app.ErrInvalidWebhookURL
	}
	d := s.deliver(ctx, inst.ID, target, webhook.KindTest, testPayload{
		Type:         webhook.KindTest,
		InstanceID:   inst.ID,
		InstanceName: inst.Name,
		Timestamp:    s.app.Now().UTC(),
		Message:      testMessage,
		Version:      s.app.Version,
	})
	if !d.Delivered {
		s.app.Notifications.Error(ctx, inst.ID, "Webhook test failed: "+d.Error)
		return d, nil
	}
	if _, err := s.app.State.UpdateInstance(ctx, inst.ID, func(i *domain.Instance) {
		i.WebhookURL = target
		i.Touch(s.app.Now())
	}); err != nil {
		return d, err
	}
	if inst.RemoteName != "" {
		if err := s.app.Gateway.SetWebhook(ctx, inst.RemoteName, target); err != nil {
			util.LoggerFromContext(ctx).Warn("register webhook failed",
				"instance_id", inst.ID, "problem", evolution.Diagnose(err).Problem, "err", err)
		}
	}
	s.app.Notifications.Success(ctx, inst.ID, "Webhook test succeeded")
	return d, nil
}

func (s *Service) deliver(ctx context.Context, instanceID, target, kind string, payload any) Delivery {
	d := Delivery{Attempted: true}
	status, err := s.app.Webhooks.Send(ctx, target, kind, payload)
	d.Status = status
	if err != nil {
		d.Error = err.Error()
		util.LoggerFromContext(ctx).Warn("webhook delivery failed",
			"instance_id", instanceID, "kind", kind, "status", status, "err", err)
		return d
	}
	d.Delivered = true
	return d
}

// ConfigExport is the downloadable business configuration document. It is
// also accepted back by the import endpoint.
type ConfigExport struct {
	Instance struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"instance"`
	BusinessData *domain.BusinessProfile `json:"businessData"`
	ExportDate   time.Time               `json:"exportDate"`
}

// Export renders the profile of an instance as a JSON file.
func (s *Service) Export(instanceID string) (filename string, body []byte, err error) {
	inst, ok := s.app.State.Instance(instanceID)
	if !ok {
		return "", nil, app.ErrInstanceNotFound
	}
	if inst.BusinessData == nil {
		return "", nil, app.ErrNoBusinessData
	}
	now := s.app.Now().UTC()
	var doc ConfigExport
	doc.Instance.ID = inst.ID
	doc.Instance.Name = inst.Name
	doc.Instance.Description = inst.Description
	doc.BusinessData = inst.BusinessData
	doc.ExportDate = now
	body, err = json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("config-%s-%s.json", inst.Name, now.Format("2006-01-02")), body, nil
}
