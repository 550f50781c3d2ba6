// Package messages records test messages sent through an instance and the
// messages the gateway reports back.
package messages

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

const (
	StatusSent     = "sent"
	StatusReceived = "received"

	DefaultListLimit = 10
)

type Service struct {
	app *app.App
	// Location is used when rendering dates in exports.
	Location *time.Location
}

func NewService(a *app.App) *Service {
	return &Service{app: a, Location: time.Local}
}

type SendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

// SendTest sends a text message through a connected instance. A gateway
// failure is logged and the message is still recorded.
func (s *Service) SendTest(ctx context.Context, instanceID string, req SendRequest) (domain.Message, error) {
	inst, ok := s.app.State.Instance(instanceID)
	if !ok {
		return domain.Message{}, app.ErrInstanceNotFound
	}
	number := strings.TrimSpace(req.Number)
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return domain.Message{}, app.ErrEmptyMessage
	}
	if inst.Status != domain.StatusConnected {
		return domain.Message{}, app.ErrNotConnected
	}
	if !domain.IsValidPhone(number) {
		return domain.Message{}, app.ErrInvalidPhone
	}

	msg := domain.Message{
		ID:         util.NewPrefixedID("msg"),
		InstanceID: inst.ID,
		Type:       domain.DirectionSent,
		Number:     number,
		Message:    text,
		Timestamp:  s.app.Now().UTC(),
		Status:     StatusSent,
	}
	if inst.RemoteName != "" {
		res, err := s.app.Gateway.SendText(ctx, inst.RemoteName, domain.DigitsOnly(number), text)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("gateway send failed",
				"instance_id", inst.ID, "problem", evolution.Diagnose(err).Problem, "err", err)
		} else {
			msg.RemoteMessageID = res.Key.ID
		}
	}
	if err := s.record(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	s.app.Notifications.Success(ctx, inst.ID, "Message sent")
	return msg, nil
}

// ReceivedEvent is the minimal callback body for a received message.
// Instance may be the display or the technical name.
type ReceivedEvent struct {
	InstanceID string `json:"instanceId"`
	Instance   string `json:"instance"`
	From       string `json:"from"`
	Number     string `json:"number"`
	Message    Text   `json:"message"`
	MessageID  string `json:"messageId"`
}

// Text accepts either a plain string or an object with a text field.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = Text(obj.Text)
	return nil
}

// Receive records an incoming message. Incomplete events and events for
// unknown instances are ignored and reported with ok=false.
func (s *Service) Receive(ctx context.Context, ev ReceivedEvent) (msg domain.Message, ok bool, err error) {
	text := strings.TrimSpace(string(ev.Message))
	if text == "" {
		return domain.Message{}, false, nil
	}
	inst, found := s.app.State.Instance(ev.InstanceID)
	if !found && ev.Instance != "" {
		inst, found = s.app.State.FindByName(ev.Instance)
	}
	if !found {
		util.LoggerFromContext(ctx).Debug("received message for unknown instance",
			"instance_id", ev.InstanceID, "instance", ev.Instance)
		return domain.Message{}, false, nil
	}
	number := ev.From
	if number == "" {
		number = ev.Number
	}
	msg = domain.Message{
		ID:              util.NewPrefixedID("msg"),
		InstanceID:      inst.ID,
		Type:            domain.DirectionReceived,
		Number:          strings.TrimSpace(number),
		Message:         text,
		Timestamp:       s.app.Now().UTC(),
		RemoteMessageID: ev.MessageID,
		Status:          StatusReceived,
	}
	if err := s.record(ctx, msg); err != nil {
		return domain.Message{}, false, err
	}
	s.app.Notifications.Info(ctx, inst.ID, "New message from "+msg.Number)
	return msg, true, nil
}

// ReceiveGatewayEvent records the text of a messages.upsert event. Messages
// sent from the instance itself are skipped.
func (s *Service) ReceiveGatewayEvent(ctx context.Context, ev evolution.Event) (domain.Message, bool, error) {
	in, ok, err := ev.Message()
	if err != nil || !ok || in.FromMe {
		return domain.Message{}, false, err
	}
	return s.Receive(ctx, ReceivedEvent{
		Instance:  ev.Instance,
		From:      in.Number,
		Message:   Text(in.Text),
		MessageID: in.ID,
	})
}

// List returns up to limit messages of the instance, newest first.
func (s *Service) List(instanceID string, limit int) ([]domain.Message, error) {
	if _, ok := s.app.State.Instance(instanceID); !ok {
		return nil, app.ErrInstanceNotFound
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	msgs := s.app.State.InstanceMessages(instanceID, limit)
	out := make([]domain.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

// Clear drops the instance's history and resets its counter.
func (s *Service) Clear(ctx context.Context, instanceID string) (int, error) {
	if _, ok := s.app.State.Instance(instanceID); !ok {
		return 0, app.ErrInstanceNotFound
	}
	removed, err := s.app.State.ClearMessages(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	if _, err := s.app.State.UpdateInstance(ctx, instanceID, func(i *domain.Instance) {
		i.MessageCount = 0
	}); err != nil {
		return removed, err
	}
	s.app.Notifications.Success(ctx, instanceID, "Message history cleared")
	return removed, nil
}

func (s *Service) record(ctx context.Context, msg domain.Message) error {
	if err := s.app.State.AddMessage(ctx, msg); err != nil {
		return err
	}
	_, err := s.app.State.UpdateInstance(ctx, msg.InstanceID, func(i *domain.Instance) {
		i.MessageCount++
		i.Touch(s.app.Now())
	})
	return err
}
