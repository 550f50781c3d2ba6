// Package backup exports, imports and snapshots the console state.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/business"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/state"
)

const (
	ObjectPrefix   = "backups/"
	objectLayout   = "20060102T150405.000Z"
	legacyLayout   = "20060102T150405Z"
	DefaultURLLife = 15 * time.Minute
)

var ErrNoBackup = errors.New("no backup available")

// Kind names what an imported document turned out to be.
type Kind string

const (
	KindFullBackup     Kind = "backup"
	KindInstanceConfig Kind = "instance-config"
	KindMessages       Kind = "messages"
)

type ImportResult struct {
	Kind       Kind     `json:"kind"`
	Instances  int      `json:"instances,omitempty"`
	Messages   int      `json:"messages,omitempty"`
	InstanceID string   `json:"instanceId,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Instances int       `json:"instances"`
	Messages  int       `json:"messages"`
	ObjectKey string    `json:"objectKey,omitempty"`
}

type Latest struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
	ObjectKey string    `json:"objectKey,omitempty"`
	URL       string    `json:"url,omitempty"`
	// Backup is set when no object storage is configured.
	Backup *state.Backup `json:"backup,omitempty"`
}

type Service struct {
	app      *app.App
	business *business.Service
}

func NewService(a *app.App, biz *business.Service) *Service {
	return &Service{app: a, business: biz}
}

// Create returns a full backup of the current state.
func (s *Service) Create() state.Backup {
	return s.app.State.CreateBackup()
}

// Restore replaces the state with b.
func (s *Service) Restore(ctx context.Context, b state.Backup) error {
	if b.Instances == nil {
		return app.ErrInvalidBackup
	}
	for _, inst := range b.Instances {
		if inst.ID == "" || strings.TrimSpace(inst.Name) == "" {
			return fmt.Errorf("%w: instance without id or name", app.ErrInvalidBackup)
		}
	}
	if err := state.CheckUnique(b.Instances); err != nil {
		return fmt.Errorf("%w: %v", app.ErrInvalidBackup, err)
	}
	if err := s.app.State.RestoreBackup(ctx, b); err != nil {
		return err
	}
	s.app.Notifications.Success(ctx, "", "Backup restored")
	return nil
}

type importProbe struct {
	Instances    json.RawMessage `json:"instances"`
	Instance     json.RawMessage `json:"instance"`
	BusinessData json.RawMessage `json:"businessData"`
	Messages     json.RawMessage `json:"messages"`
}

// Import detects the document type and applies it: a full backup, the
// business configuration of one instance, or a list of messages.
func (s *Service) Import(ctx context.Context, raw []byte) (ImportResult, error) {
	var probe importProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", app.ErrInvalidBackup, err)
	}
	switch {
	case isArray(probe.Instances):
		var b state.Backup
		if err := json.Unmarshal(raw, &b); err != nil {
			return ImportResult{}, fmt.Errorf("%w: %v", app.ErrInvalidBackup, err)
		}
		if err := s.Restore(ctx, b); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Kind: KindFullBackup, Instances: len(b.Instances), Messages: len(b.MessageHistory)}, nil
	case isObject(probe.Instance) && isObject(probe.BusinessData):
		return s.importConfig(ctx, raw)
	case isArray(probe.Messages):
		return s.importMessages(ctx, probe.Messages)
	default:
		return ImportResult{}, fmt.Errorf("%w: unrecognized document", app.ErrInvalidBackup)
	}
}

func (s *Service) importConfig(ctx context.Context, raw []byte) (ImportResult, error) {
	var doc business.ConfigExport
	if err := json.Unmarshal(raw, &doc); err != nil || doc.BusinessData == nil {
		return ImportResult{}, fmt.Errorf("%w: invalid business configuration", app.ErrInvalidBackup)
	}
	inst, ok := s.app.State.Instance(doc.Instance.ID)
	if !ok {
		inst, ok = s.app.State.FindByName(doc.Instance.Name)
	}
	if !ok {
		return ImportResult{}, app.ErrInstanceNotFound
	}
	profile := *doc.BusinessData
	profile.Timestamp = time.Time{}
	_, warnings, err := s.business.Apply(ctx, inst.ID, profile)
	if err != nil {
		return ImportResult{}, err
	}
	s.app.Notifications.Success(ctx, inst.ID, "Business configuration imported")
	return ImportResult{Kind: KindInstanceConfig, InstanceID: inst.ID, Warnings: warnings}, nil
}

func (s *Service) importMessages(ctx context.Context, raw json.RawMessage) (ImportResult, error) {
	var msgs []domain.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", app.ErrInvalidBackup, err)
	}
	now := s.app.Now().UTC()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = util.NewPrefixedID("msg")
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
	n, err := s.app.State.ImportMessages(ctx, msgs)
	if err != nil {
		return ImportResult{}, err
	}
	s.app.Notifications.Success(ctx, "", fmt.Sprintf("%d messages imported", n))
	return ImportResult{Kind: KindMessages, Messages: n}, nil
}

// Snapshot writes the auto-backup and, with object storage configured,
// uploads it under ObjectPrefix.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	b, err := s.app.State.SaveAutoBackup(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("save auto backup: %w", err)
	}
	snap := Snapshot{Timestamp: b.Timestamp, Instances: len(b.Instances), Messages: len(b.MessageHistory)}
	if s.app.Objects == nil {
		return snap, nil
	}
	body, err := json.Marshal(b)
	if err != nil {
		return snap, err
	}
	key := ObjectPrefix + b.Timestamp.UTC().Format(objectLayout) + ".json"
	if err := s.app.Objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return snap, fmt.Errorf("upload backup: %w", err)
	}
	snap.ObjectKey = key
	return snap, nil
}

// Latest points at the newest snapshot: a presigned URL when object storage
// is configured, the stored auto-backup otherwise.
func (s *Service) Latest(ctx context.Context, expiry time.Duration) (Latest, error) {
	if expiry <= 0 {
		expiry = DefaultURLLife
	}
	if s.app.Objects != nil {
		key, ok, err := s.app.Objects.Latest(ctx, ObjectPrefix)
		if err != nil {
			return Latest{}, err
		}
		if ok {
			u, err := s.app.Objects.PresignGet(ctx, key, expiry)
			if err != nil {
				return Latest{}, err
			}
			out := Latest{ObjectKey: key, URL: u}
			name := strings.TrimSuffix(strings.TrimPrefix(key, ObjectPrefix), ".json")
			for _, layout := range []string{objectLayout, legacyLayout} {
				if ts, err := time.Parse(layout, name); err == nil {
					out.Timestamp = ts
					break
				}
			}
			return out, nil
		}
	}
	b, ok, err := s.app.State.LatestAutoBackup(ctx)
	if err != nil {
		return Latest{}, err
	}
	if !ok {
		return Latest{}, ErrNoBackup
	}
	return Latest{Timestamp: b.Timestamp, Backup: &b}, nil
}

func isArray(raw json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(raw)), "[")
}

func isObject(raw json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(raw)), "{")
}
